// Package source reads the source files shown by the shell, keeping the
// most recently listed files in memory.
package source

import (
	"errors"
	"fmt"
	"io/ioutil"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// ErrOutOfRange returned when a line number is past the end of a file.
var ErrOutOfRange = errors.New("line out of range")

const defaultCacheSize = 32

// Cache source file lines, keyed by path
type Cache struct {
	files *lru.Cache
	read  func(path string) ([]byte, error)
}

// NewCache returns a Cache keeping at most size files, a non-positive size
// selects the default.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	files, _ := lru.New(size)
	return &Cache{files: files, read: ioutil.ReadFile}
}

// Lines returns the lines of file, without line terminators.
func (c *Cache) Lines(file string) ([]string, error) {
	if v, ok := c.files.Get(file); ok {
		return v.([]string), nil
	}

	dat, err := c.read(file)
	if err != nil {
		return nil, fmt.Errorf("read file err: %v", err)
	}
	text := strings.TrimSuffix(string(dat), "\n")
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSuffix(ln, "\r")
	}
	c.files.Add(file, lines)
	return lines, nil
}

// Range returns the lines of file within rng lines of the 1-based lineno,
// and the line number of the first one.
func (c *Cache) Range(file string, lineno, rng int) ([]string, int, error) {
	lines, err := c.Lines(file)
	if err != nil {
		return nil, 0, err
	}
	if lineno < 1 || lineno > len(lines) {
		return nil, 0, fmt.Errorf("%s:%d: %w", file, lineno, ErrOutOfRange)
	}

	begin := lineno - rng
	if begin < 1 {
		begin = 1
	}
	end := lineno + rng
	if end > len(lines) {
		end = len(lines)
	}
	return lines[begin-1 : end], begin, nil
}

// Purge drops every cached file, edited sources are read again.
func (c *Cache) Purge() {
	c.files.Purge()
}
