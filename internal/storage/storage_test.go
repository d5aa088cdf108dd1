package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestStoreError(t *testing.T) {
	t.Run("MySQL message is kept verbatim", func(t *testing.T) {
		cause := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'PRIMARY'"}
		err := &StoreError{Op: "insert song", Err: fmt.Errorf("exec: %w", cause)}

		if err.Error() != cause.Message {
			t.Errorf("expected %q, got %q", cause.Message, err.Error())
		}

		var myErr *mysql.MySQLError
		if !errors.As(err, &myErr) || myErr.Number != 1062 {
			t.Error("expected the MySQL error to be reachable through Unwrap")
		}
	})

	t.Run("Other errors use their own text", func(t *testing.T) {
		err := &StoreError{Op: "insert song", Err: errors.New("connection refused")}
		if err.Error() != "connection refused" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})
}

func TestLibraryKeys(t *testing.T) {
	if got := libraryGenKey("u1"); got != "library:u1:gen" {
		t.Errorf("unexpected generation key %q", got)
	}
	if got := librarySongsKey("u1", 0); got != "library:u1:songs:0" {
		t.Errorf("unexpected key %q", got)
	}
	if librarySongsKey("u1", 1) == librarySongsKey("u1", 2) {
		t.Error("each generation needs its own listing key")
	}
}
