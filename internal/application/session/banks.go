package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/internal/domain/shared"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

// BankInfo describes a registered bank.
type BankInfo struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Questions int    `json:"questions"`
}

// FileReport is the outcome of loading one bank file.
type FileReport struct {
	Path      string                 `json:"path"`
	BankID    string                 `json:"bank_id"`
	Loaded    bool                   `json:"loaded"`
	Questions int                    `json:"questions"`
	Rejected  []quiz.ValidationError `json:"rejected,omitempty"`
	Err       string                 `json:"error,omitempty"`
}

// Registry holds loaded banks by id. Banks are immutable, so a replaced bank
// keeps serving the sessions that already reference it.
type Registry struct {
	mu    sync.RWMutex
	banks map[string]*quiz.Bank
	log   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		banks: make(map[string]*quiz.Bank),
		log:   log.With(logger.Component("bank_registry")),
	}
}

// Register adds or replaces a bank.
func (r *Registry) Register(b *quiz.Bank) {
	r.mu.Lock()
	r.banks[b.ID()] = b
	r.mu.Unlock()
}

// Get returns the bank with id.
func (r *Registry) Get(id string) (*quiz.Bank, error) {
	r.mu.RLock()
	b, ok := r.banks[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, shared.WrapError("quiz", "FindBank", shared.ErrNotFound, "question bank not found", fmt.Errorf("%q", id))
	}
	return b, nil
}

// List returns registered banks sorted by id.
func (r *Registry) List() []BankInfo {
	r.mu.RLock()
	out := make([]BankInfo, 0, len(r.banks))
	for _, b := range r.banks {
		out = append(out, BankInfo{ID: b.ID(), Version: b.Version(), Questions: b.Len()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir loads every *.csv and *.xlsx file in dir. The file name without extension is
// the bank id. A file that fails to load is reported and skipped; the error
// is non-nil only when dir cannot be read or no file loaded.
func (r *Registry) LoadDir(dir string, opts quiz.CSVOptions) ([]FileReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read banks dir: %w", err)
	}

	var (
		reports []FileReport
		loaded  int
		errs    []error
	)
	for _, de := range entries {
		if de.IsDir() || !isBankFile(de.Name()) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		rep := r.loadFile(path, opts)
		if rep.Loaded {
			loaded++
		} else {
			errs = append(errs, fmt.Errorf("%s: %s", de.Name(), rep.Err))
		}
		reports = append(reports, rep)
	}

	if loaded == 0 {
		if len(errs) == 0 {
			return reports, fmt.Errorf("no question banks in %s", dir)
		}
		return reports, errors.Join(errs...)
	}
	return reports, nil
}

func isBankFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

func (r *Registry) loadFile(path string, opts quiz.CSVOptions) FileReport {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rep := FileReport{Path: path, BankID: id}

	f, err := os.Open(path)
	if err != nil {
		rep.Err = err.Error()
		r.log.Error("open bank file", logger.String("path", path), logger.Err(err))
		return rep
	}
	defer f.Close()

	opts.BankID = id
	var (
		bank     *quiz.Bank
		rejected []quiz.ValidationError
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		bank, rejected, err = quiz.LoadXLSX(f, opts.LoadOptions)
	} else {
		bank, rejected, err = quiz.LoadCSV(f, opts)
	}
	rep.Rejected = rejected
	for _, ve := range rejected {
		r.log.Warn("row rejected", logger.QuizID(id), logger.Int("row", ve.Row), logger.String("reason", ve.Reason))
	}
	if err != nil {
		rep.Err = err.Error()
		r.log.Error("bank not loaded", logger.QuizID(id), logger.Err(err))
		return rep
	}

	r.Register(bank)
	rep.Loaded = true
	rep.Questions = bank.Len()
	r.log.Info("bank loaded", logger.QuizID(id), logger.BankVersion(bank.Version()),
		logger.Int("questions", bank.Len()), logger.Int("rejected", len(rejected)))
	return rep
}
