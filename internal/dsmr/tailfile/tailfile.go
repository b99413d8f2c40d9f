package tailfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
)

var ErrStopped = errors.New("tail stopped")

// Source follows a text file (a capture or a FIFO fed by ser2net) and hands
// out its lines. tail strips the '\n' which is put back so framed telegrams
// keep the meter's line endings.
type Source struct {
	path string
	t    *tail.Tail
}

type Config struct {
	Path string
	// FromEnd skips what is already in the file and waits for new lines.
	FromEnd bool
	Poll    bool
}

func Open(config Config) (*Source, error) {
	tailConfig := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      config.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if config.FromEnd {
		tailConfig.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(config.Path, tailConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to tail file %s: %w", config.Path, err)
	}

	return &Source{path: config.Path, t: t}, nil
}

func (s *Source) ReadLine() ([]byte, error) {
	line, ok := <-s.t.Lines
	if !ok {
		if err := s.t.Err(); err != nil {
			return nil, fmt.Errorf("tail of %s ended: %w", s.path, err)
		}
		return nil, ErrStopped
	}
	if line.Err != nil {
		return nil, fmt.Errorf("error reading from %s: %w", s.path, line.Err)
	}
	return []byte(line.Text + "\n"), nil
}

func (s *Source) Close() error {
	err := s.t.Stop()
	s.t.Cleanup()
	return err
}
