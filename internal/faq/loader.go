package faq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads an FAQ set. Files ending in .yaml or .yml hold a list of
// entries; anything else is read as one "question|answer[|tag,tag]" per line.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open faq file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return ParsePipe(f)
	}
}

type yamlFile struct {
	Entries []Entry `yaml:"faqs"`
}

// ParseYAML accepts either a top-level list of entries or a document with a
// "faqs" list.
func ParseYAML(r io.Reader) ([]Entry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		var doc yamlFile
		if err2 := yaml.Unmarshal(raw, &doc); err2 != nil {
			return nil, fmt.Errorf("parse faq yaml: %w", err)
		}
		entries = doc.Entries
	}
	return finish(entries)
}

// ParsePipe reads "question|answer" lines. Blank lines and lines starting with
// '#' are skipped; lines without a separator are rejected.
func ParsePipe(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		parts := strings.SplitN(s, "|", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("faq line %d: expected question|answer", line)
		}
		e := Entry{Question: strings.TrimSpace(parts[0]), Answer: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			for _, tag := range strings.Split(parts[2], ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					e.Tags = append(e.Tags, tag)
				}
			}
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return finish(entries)
}

func finish(entries []Entry) ([]Entry, error) {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Question == "" || e.Answer == "" {
			return nil, fmt.Errorf("faq entry %d: question and answer are required", i+1)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("faq-%d", i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("faq entry %d: duplicate id %q", i+1, e.ID)
		}
		seen[e.ID] = true
	}
	return entries, nil
}
