package genome

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

var ErrMalformed = errors.New("malformed genome")

// Read parses whitespace separated decimal integers, masking each to a byte.
// With withID set, the first integer is an agent id and is skipped.
func Read(r io.Reader, withID bool) (Genome, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	var g Genome
	first := true
	for scanner.Scan() {
		token := scanner.Text()
		v, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("%w: token %q", ErrMalformed, token)
		}
		if first && withID {
			first = false
			continue
		}
		first = false
		g = append(g, byte(v&255))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read genome: %w", err)
	}
	if len(g) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrMalformed)
	}
	return g, nil
}

func Load(path string, withID bool) (Genome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genome %s: %w", path, err)
	}
	defer f.Close()

	g, err := Read(f, withID)
	if err != nil {
		return nil, fmt.Errorf("load genome %s: %w", path, err)
	}
	return g, nil
}

// Write emits every byte as a decimal followed by a tab, then a newline.
func Write(w io.Writer, g Genome) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 4)
	for _, b := range g {
		buf = strconv.AppendInt(buf[:0], int64(b), 10)
		buf = append(buf, '\t')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

func Save(path string, g Genome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create genome %s: %w", path, err)
	}
	if err := Write(f, g); err != nil {
		_ = f.Close()
		return fmt.Errorf("write genome %s: %w", path, err)
	}
	return f.Close()
}
