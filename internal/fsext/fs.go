package fsext

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SmartJoin joins two paths, but only if the second is not already an
// absolute path.
func SmartJoin(a, b string) string {
	if filepath.IsAbs(b) {
		return b
	}
	return filepath.Join(a, b)
}

// CopyFile copies src to dst, creating dst's parent directories if needed.
// If lines is non-empty it must hold either a single line number or an
// inclusive start and end pair; the selected lines are then appended to dst
// instead of replacing it. Line numbers start at 1.
func CopyFile(src, dst string, lines []int) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	if len(lines) == 0 {
		return copyWhole(src, dst)
	}
	if len(lines) > 2 {
		return fmt.Errorf("fsext: expected a line or a start-end pair, got %v", lines)
	}

	start := lines[0]
	end := start
	if len(lines) == 2 {
		end = lines[1]
	}

	infile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer infile.Close()

	outfile, err := os.OpenFile(dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer outfile.Close()

	scanner := bufio.NewScanner(infile)
	scanner.Buffer(nil, 1024*1024)
	for i := 1; scanner.Scan(); i++ {
		if i < start {
			continue
		}
		if i > end {
			break
		}
		if _, err := fmt.Fprintln(outfile, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func copyWhole(src, dst string) error {
	infile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer infile.Close()

	outfile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer outfile.Close()

	_, err = io.Copy(outfile, infile)
	return err
}
