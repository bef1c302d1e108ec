package symbol

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrTranslatorClosed = errors.New("translator is closed")

// MapFormatError reports a memory map line that could not be parsed. The
// whole snapshot is rejected when it occurs.
type MapFormatError struct {
	Line int
	Text string
	Err  error
}

func (e *MapFormatError) Error() string {
	return fmt.Sprintf("malformed memory map line %d [%s]: %s", e.Line, e.Text, e.Err)
}

func (e *MapFormatError) Unwrap() error { return e.Err }

// TranslatorSpawnError reports a worker that could not be started for Path.
// Only addresses inside that file are affected.
type TranslatorSpawnError struct {
	Path string
	Err  error
}

func (e *TranslatorSpawnError) Error() string {
	return fmt.Sprintf("failed to spawn translator for [%s]: %s", e.Path, e.Err)
}

func (e *TranslatorSpawnError) Unwrap() error { return e.Err }

var ErrTranslatorDead = errors.New("translator worker exited")
