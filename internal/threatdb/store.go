package threatdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	threatsFile  = "threats.json"
	patternsFile = "patterns.json"
	filePerm     = 0644

	// RecentLimit Summary 中返回的最近记录数
	RecentLimit = 5
)

var (
	// ErrNoKey 记录既无 hash 也无包名
	ErrNoKey = errors.New("threat record requires a hash or a package name")
	// ErrInvalidPattern 特征缺少名称或匹配串
	ErrInvalidPattern = errors.New("scan pattern requires a name and at least one example")
)

// Store JSON 文件持久化的威胁库
// 分析期间以读为主，写操作由管理接口触发
type Store struct {
	mu        sync.RWMutex
	dir       string
	logger    *logrus.Logger
	records   []ThreatRecord
	byHash    map[string]int
	byPackage map[string]int
	patterns  []ScanPattern
	now       func() time.Time
}

// Open 加载 dir 下的威胁库，文件不存在时写入种子数据
func Open(dir string, logger *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create threat db dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}

	seeded, err := loadOrSeed(s.path(threatsFile), &s.records, func() []ThreatRecord { return seedThreats(s.now()) })
	if err != nil {
		return nil, err
	}
	patternsSeeded, err := loadOrSeed(s.path(patternsFile), &s.patterns, seedPatterns)
	if err != nil {
		return nil, err
	}
	s.reindex()

	logger.WithFields(logrus.Fields{
		"dir":             dir,
		"threats":         len(s.records),
		"patterns":        len(s.patterns),
		"threats_seeded":  seeded,
		"patterns_seeded": patternsSeeded,
	}).Info("Threat database loaded")

	return s, nil
}

// loadOrSeed 读取 JSON 数组，不存在时用种子数据创建
func loadOrSeed[T any](path string, out *[]T, seed func() []T) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		*out = seed()
		return true, writeJSONAtomic(path, *out)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if *out == nil {
		*out = []T{}
	}
	return false, nil
}

// writeJSONAtomic 先写临时文件再 rename，整体替换
func writeJSONAtomic(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// reindex 重建 hash / 包名索引，调用方需持有写锁
func (s *Store) reindex() {
	s.byHash = make(map[string]int, len(s.records))
	s.byPackage = make(map[string]int, len(s.records))
	for i, r := range s.records {
		if r.Hash != "" {
			s.byHash[normalizeHash(r.Hash)] = i
		}
		if r.PackageName != "" {
			s.byPackage[r.PackageName] = i
		}
	}
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Lookup 先按 hash 再按包名查找，未命中返回 nil
func (s *Store) Lookup(hash, packageName string) *ThreatRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hash != "" {
		if i, ok := s.byHash[normalizeHash(hash)]; ok {
			r := s.records[i].clone()
			return &r
		}
	}
	if packageName != "" {
		if i, ok := s.byPackage[packageName]; ok {
			r := s.records[i].clone()
			return &r
		}
	}
	return nil
}

// Add 添加记录并持久化
// 与新记录共用 hash 或包名的旧记录会被替换，保留最早的 FirstSeen
func (s *Store) Add(record *ThreatRecord) error {
	if record == nil || (strings.TrimSpace(record.Hash) == "" && strings.TrimSpace(record.PackageName) == "") {
		return ErrNoKey
	}
	if record.Severity == "" {
		record.Severity = SeverityMedium
	}
	if !record.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", record.Severity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	r := record.clone()
	r.Hash = normalizeHash(r.Hash)
	r.PackageName = strings.TrimSpace(r.PackageName)
	r.Confidence = max(0, min(100, r.Confidence))
	if r.ID == "" {
		r.ID = "threat-" + uuid.New().String()
	}
	if r.FirstSeen.IsZero() {
		r.FirstSeen = now
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = now
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}

	next := make([]ThreatRecord, 0, len(s.records)+1)
	for _, existing := range s.records {
		conflict := existing.ID == r.ID ||
			(r.Hash != "" && normalizeHash(existing.Hash) == r.Hash) ||
			(r.PackageName != "" && existing.PackageName == r.PackageName)
		if conflict {
			if existing.FirstSeen.Before(r.FirstSeen) {
				r.FirstSeen = existing.FirstSeen
			}
			continue
		}
		next = append(next, existing)
	}
	next = append(next, r)

	if err := writeJSONAtomic(s.path(threatsFile), next); err != nil {
		return err
	}
	s.records = next
	s.reindex()

	*record = r.clone()
	s.logger.WithFields(logrus.Fields{
		"id":           r.ID,
		"package_name": r.PackageName,
		"family":       r.Family,
	}).Info("Threat record added")
	return nil
}

// Remove 按 id 删除，不存在时返回 false
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, r := range s.records {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	next := make([]ThreatRecord, 0, len(s.records)-1)
	next = append(next, s.records[:idx]...)
	next = append(next, s.records[idx+1:]...)

	if err := writeJSONAtomic(s.path(threatsFile), next); err != nil {
		return false, err
	}
	s.records = next
	s.reindex()

	s.logger.WithField("id", id).Info("Threat record removed")
	return true, nil
}

// List 返回全部记录
func (s *Store) List() []ThreatRecord {
	return s.Search("")
}

// Search 在 id / 包名 / 描述 / 家族中做不区分大小写的子串匹配
func (s *Store) Search(query string) []ThreatRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := []ThreatRecord{}
	for _, r := range s.records {
		if q == "" ||
			strings.Contains(strings.ToLower(r.ID), q) ||
			strings.Contains(strings.ToLower(r.PackageName), q) ||
			strings.Contains(strings.ToLower(r.Description), q) ||
			strings.Contains(strings.ToLower(r.Family), q) {
			out = append(out, r.clone())
		}
	}
	return out
}

// Summary 按类型、家族、严重程度统计，并返回最近出现的记录
func (s *Store) Summary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &Summary{
		Total:      len(s.records),
		ByType:     make(map[string]int),
		ByFamily:   make(map[string]int),
		BySeverity: make(map[string]int),
		Recent:     []ThreatRecord{},
	}
	for _, r := range s.records {
		sum.ByType[r.Type]++
		if r.Family != "" {
			sum.ByFamily[r.Family]++
		}
		sum.BySeverity[string(r.Severity)]++
		sum.Recent = append(sum.Recent, r.clone())
	}

	sort.SliceStable(sum.Recent, func(i, j int) bool {
		return sum.Recent[i].LastSeen.After(sum.Recent[j].LastSeen)
	})
	if len(sum.Recent) > RecentLimit {
		sum.Recent = sum.Recent[:RecentLimit]
	}
	return sum
}

// Patterns 返回扫描特征副本
func (s *Store) Patterns() []ScanPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScanPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.clone())
	}
	return out
}

// AddPattern 添加扫描特征并持久化
func (s *Store) AddPattern(pattern *ScanPattern) error {
	if pattern == nil || strings.TrimSpace(pattern.Name) == "" {
		return ErrInvalidPattern
	}
	p := pattern.clone()
	if len(p.Examples) == 0 && p.Pattern != "" {
		p.Examples = []string{p.Pattern}
	}
	if len(p.Examples) == 0 {
		return ErrInvalidPattern
	}
	if p.ID == "" {
		p.ID = "pattern-" + uuid.New().String()
	}
	if p.RiskLevel == "" {
		p.RiskLevel = "medium"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]ScanPattern, 0, len(s.patterns)+1)
	for _, existing := range s.patterns {
		if existing.ID != p.ID {
			next = append(next, existing)
		}
	}
	next = append(next, p)

	if err := writeJSONAtomic(s.path(patternsFile), next); err != nil {
		return err
	}
	s.patterns = next
	*pattern = p.clone()

	s.logger.WithFields(logrus.Fields{
		"id":   p.ID,
		"name": p.Name,
	}).Info("Scan pattern added")
	return nil
}
