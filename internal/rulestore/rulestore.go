// Package rulestore loads rule documents from disk.
//
// Each *.toml file in the rules directory holds one rule document. Loading
// compiles every document and reports per-file problems without aborting the
// batch, so one broken file never takes down the rest of the rule set.
package rulestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"slate/internal/rules"
)

// Source produces compiled rules for the dispatcher to install.
type Source interface {
	Load() (LoadResult, error)
}

// FileProblem describes why one rule file was rejected.
type FileProblem struct {
	File       string
	Err        error
	Validation []rules.ValidationError
}

func (p FileProblem) String() string {
	if p.Err != nil {
		return fmt.Sprintf("%s: %v", p.File, p.Err)
	}
	parts := make([]string, 0, len(p.Validation))
	for _, v := range p.Validation {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("%s: %s", p.File, strings.Join(parts, "; "))
}

// LoadResult carries the compiled rules and any rejected files from one
// load pass.
type LoadResult struct {
	Rules    []*rules.Rule
	Problems []FileProblem
}

// DirSource loads rule documents from a directory of TOML files.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Dir returns the directory this source reads from.
func (s *DirSource) Dir() string {
	return s.dir
}

// Load reads, parses, and compiles every rule file. Files are processed in
// name order; a duplicate rule id rejects the later file.
func (s *DirSource) Load() (LoadResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read rules directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	result := LoadResult{}
	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		rule, problem := loadFile(path)
		if problem != nil {
			result.Problems = append(result.Problems, *problem)
			continue
		}
		if firstFile, dup := seen[rule.ID]; dup {
			result.Problems = append(result.Problems, FileProblem{
				File: path,
				Err:  fmt.Errorf("rule id %q already defined in %s", rule.ID, firstFile),
			})
			continue
		}
		seen[rule.ID] = path
		result.Rules = append(result.Rules, rule)
	}
	return result, nil
}

func loadFile(path string) (*rules.Rule, *FileProblem) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileProblem{File: path, Err: fmt.Errorf("read rule file: %w", err)}
	}

	// A rule file that omits enabled means enabled.
	doc := rules.Document{Enabled: true}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, &FileProblem{File: path, Err: fmt.Errorf("parse rule file: %w", err)}
	}

	rule, validationErrs := rules.Compile(doc)
	if len(validationErrs) > 0 {
		return nil, &FileProblem{File: path, Validation: validationErrs}
	}
	return rule, nil
}

// CheckFile parses and compiles a single rule file, returning its compiled
// form or the full problem list. Used by the CLI rule linter.
func CheckFile(path string) (*rules.Rule, *FileProblem) {
	return loadFile(path)
}
