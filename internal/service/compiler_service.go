package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/cache"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// CompilerService compiles measures and caches the results by content.
type CompilerService struct {
	compiler *Compiler
	cache    cache.Cache
	ttl      time.Duration
	logger   *logrus.Logger
}

// NewCompilerService creates a compiler service. The cache may be nil.
func NewCompilerService(compiler *Compiler, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CompilerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CompilerService{compiler: compiler, cache: c, ttl: ttl, logger: logger}
}

// Compiler returns the underlying compiler.
func (s *CompilerService) Compiler() *Compiler {
	return s.compiler
}

// CompileMeasure compiles a measure, serving repeat compiles of identical
// content from the cache. Cache failures only cost a recompile.
func (s *CompilerService) CompileMeasure(ctx context.Context, m *domain.Measure) CompileResult {
	key, keyErr := s.cacheKey(m)
	if s.cache != nil && keyErr == nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached CompileResult
			if err := json.Unmarshal(data, &cached); err == nil {
				s.logger.WithField("measure_id", m.ID).Debug("Compile cache hit")
				return cached
			}
			_ = s.cache.Delete(ctx, key)
		} else if err != nil {
			s.logger.WithError(err).Warn("Compile cache read failed")
		}
	}

	start := time.Now()
	result := s.compiler.CompileMeasure(m)
	s.logger.WithFields(logrus.Fields{
		"measure_id": m.ID,
		"ctes":       len(result.CTEs),
		"errors":     len(result.Errors),
		"warnings":   len(result.Warnings),
		"duration":   time.Since(start),
	}).Info("Measure compiled")

	if s.cache != nil && keyErr == nil {
		if data, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.logger.WithError(err).Warn("Compile cache write failed")
			}
		}
	}
	return result
}

// CompileTree compiles a standalone criteria tree. Trees are not cached.
func (s *CompilerService) CompileTree(root *domain.LogicalClause) CompileResult {
	return s.compiler.CompileTree(root)
}

func (s *CompilerService) cacheKey(m *domain.Measure) (string, error) {
	payload, err := json.Marshal(struct {
		Measure *domain.Measure       `json:"measure"`
		Config  domain.CompilerConfig `json:"config"`
	}{m, s.compiler.Config()})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "compile:" + hex.EncodeToString(sum[:]), nil
}
