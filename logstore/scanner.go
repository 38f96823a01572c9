package logstore

import (
	"bufio"
	"errors"
	"io"
)

// Scanner reads the records of a log file in order. A truncated record at the end of
// the input ends the scan without an error; a checksum mismatch fails it with
// ErrCorruptData.
type Scanner struct {
	*bufio.Scanner
	record *Record
}

func NewScanner(r io.Reader, maxRecordSize int) *Scanner {
	s := &Scanner{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxRecordSize+headerLength)
	scanner.Split(s.split)
	s.Scanner = scanner
	return s
}

// split implements the SplitFunc interface for the custom scanner
func (s *Scanner) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	record, err := Deserialize(data)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			// Not enough bytes for a whole record yet. At EOF this drops a torn tail.
			return 0, nil, nil
		}
		return 0, nil, err
	}

	s.record = record
	advance = record.Size()
	return advance, data[:advance], nil
}

// Record returns the record read by the last call to Scan.
func (s *Scanner) Record() *Record {
	return s.record
}
