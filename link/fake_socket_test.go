package link

import "time"

// fakeSocket is a Socket test double whose Read queue is filled directly by
// the test, letting it stage exactly the bytes a real nominal/redundant
// pair would have produced for a given scenario.
type fakeSocket struct {
	writes  [][]byte
	toRead  [][]byte
	readPos int
}

func (s *fakeSocket) Open(_ string) error { return nil }

func (s *fakeSocket) SetTimeout(_ time.Duration) error { return nil }

func (s *fakeSocket) Read(buf []byte) (int, error) {
	if s.readPos >= len(s.toRead) {
		return 0, nil
	}
	n := copy(buf, s.toRead[s.readPos])
	s.readPos++
	return n, nil
}

func (s *fakeSocket) Write(buf []byte) (int, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	s.writes = append(s.writes, cp)
	return len(buf), nil
}

func (s *fakeSocket) Close() error { return nil }

func (s *fakeSocket) queue(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.toRead = append(s.toRead, cp)
}
