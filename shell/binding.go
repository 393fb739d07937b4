package shell

import (
	"github.com/m4xw311/atshell/errors"
	"go.uber.org/zap"
)

// Keymaps the plugins override, per shell.
var (
	ZshKeymaps  = []string{"emacs", "viins", "vicmd"}
	BashKeymaps = []string{"emacs", "vi-insert"}
)

// Binder is a shell's key binding table.
type Binder interface {
	// Lookup returns the action bound to seq in mode; ok is false when the
	// sequence is unbound.
	Lookup(mode, seq string) (action string, ok bool, err error)
	Bind(mode, seq, action string) error
	Unbind(mode, seq string) error
}

// BindingRecord remembers what a sequence was bound to before we took it.
type BindingRecord struct {
	Sequence       string
	Mode           string
	OriginalAction string
	// Bound is false when the sequence had no binding.
	Bound bool
}

// Records returns the captured bindings in install order.
func (s *State) Records() []BindingRecord {
	return append([]BindingRecord(nil), s.records...)
}

// InstallBinding binds seq to action in every mode. The previous binding of
// each mode is captured first. If any mode fails, the modes already changed
// are put back and nothing is recorded.
func (s *State) InstallBinding(seq, action string, modes []string) error {
	if s.binder == nil {
		return errors.Mark(errors.New("no binding table"), errors.ErrBindingInstall)
	}

	var done []BindingRecord
	for _, mode := range modes {
		orig, ok, err := s.binder.Lookup(mode, seq)
		if err != nil {
			s.rollback(done)
			return errors.Mark(errors.Wrapf(err, "could not read binding of %q in %s", seq, mode), errors.ErrBindingInstall)
		}
		rec := BindingRecord{Sequence: seq, Mode: mode, OriginalAction: orig, Bound: ok}
		if err := s.binder.Bind(mode, seq, action); err != nil {
			// The failed mode may be half-written; restore it as well.
			s.rollback(append(done, rec))
			return errors.Mark(errors.Wrapf(err, "could not bind %q in %s", seq, mode), errors.ErrBindingInstall)
		}
		done = append(done, rec)
	}
	s.records = append(s.records, done...)
	s.logger.Debug("binding installed", zap.String("sequence", seq), zap.Strings("modes", modes))
	return nil
}

// Restore puts every captured binding back, newest first.
func (s *State) Restore() error {
	err := s.restore(s.records)
	s.records = nil
	return err
}

func (s *State) rollback(recs []BindingRecord) {
	if err := s.restore(recs); err != nil {
		s.logger.Error("binding rollback incomplete", zap.Error(err))
	}
}

func (s *State) restore(recs []BindingRecord) error {
	var first error
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		var err error
		if r.Bound {
			err = s.binder.Bind(r.Mode, r.Sequence, r.OriginalAction)
		} else {
			err = s.binder.Unbind(r.Mode, r.Sequence)
		}
		if err != nil && first == nil {
			first = errors.Mark(errors.Wrapf(err, "could not restore %q in %s", r.Sequence, r.Mode), errors.ErrBindingInstall)
		}
	}
	return first
}
