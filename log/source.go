package log

import "os"

// Source is a Logger handle that tags lines with a source name. A nil *Source
// discards everything, so components can take one without requiring it.
type Source struct {
	l    *Logger
	name string
}

// Nop returns a Source that discards everything.
func Nop() *Source {
	return nil
}

// Name returns the source tag.
func (s *Source) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// With returns a child source tagged "<name>/<sub>".
func (s *Source) With(sub string) *Source {
	if s == nil {
		return nil
	}
	return &Source{l: s.l, name: s.name + "/" + sub}
}

// Debugf writes a 'debug' message.
func (s *Source) Debugf(format string, args ...interface{}) {
	if s != nil {
		s.l.log(DebugLevel, s.name, format, args...)
	}
}

// Infof writes an 'info' message.
func (s *Source) Infof(format string, args ...interface{}) {
	if s != nil {
		s.l.log(InfoLevel, s.name, format, args...)
	}
}

// Warnf writes a 'warning' message.
func (s *Source) Warnf(format string, args ...interface{}) {
	if s != nil {
		s.l.log(WarningLevel, s.name, format, args...)
	}
}

// Errorf writes an 'error' message.
func (s *Source) Errorf(format string, args ...interface{}) {
	if s != nil {
		s.l.log(ErrorLevel, s.name, format, args...)
	}
}

// Error writes an error value.
func (s *Source) Error(err error) {
	if s != nil {
		s.l.log(ErrorLevel, s.name, "%v", err)
	}
}

// Fatalf writes a 'fatal' message and blocks until the exit handler has run.
func (s *Source) Fatalf(format string, args ...interface{}) {
	if s != nil {
		s.l.log(FatalLevel, s.name, format, args...)
	}
}

func exitProcess() {
	os.Exit(1)
}
