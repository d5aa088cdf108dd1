package slug

import "github.com/mozillazg/go-pinyin"

// PinyinTable reads ideographs as toneless Mandarin pinyin
type PinyinTable struct {
	args pinyin.Args
}

// NewPinyinTable creates a table returning only the primary reading
func NewPinyinTable() PinyinTable {
	args := pinyin.NewArgs()
	args.Style = pinyin.Normal
	args.Heteronym = false
	return PinyinTable{args: args}
}

// Readings implements Table
func (t PinyinTable) Readings(r rune) []string {
	return pinyin.SinglePinyin(r, t.args)
}
