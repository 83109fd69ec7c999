// Package workflow 实现多步骤 AI 工作流的编排与执行
package workflow

import (
	"encoding/json"
	"strings"
	"sync"
)

// Scope 工作流执行期间的变量作用域
// 所有步骤共享同一个 Scope，变量按首次写入顺序保序，
// 序列化结果可以稳定地落库和比对
type Scope struct {
	mu     sync.RWMutex
	order  []string
	values map[string]string
}

// NewScope 创建空的变量作用域
func NewScope() *Scope {
	return &Scope{
		values: make(map[string]string),
	}
}

// Set 写入变量，已存在时覆盖值但保持原有顺序
func (s *Scope) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Get 读取变量，第二个返回值表示变量是否存在
func (s *Scope) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Has 判断变量是否存在
func (s *Scope) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Len 返回变量数量
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Names 按写入顺序返回所有变量名
func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Snapshot 按写入顺序返回变量副本
func (s *Scope) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]string, len(s.values))
	for k, v := range s.values {
		snap[k] = v
	}
	return snap
}

// MarshalJSON 按写入顺序序列化，保证结果稳定
func (s *Scope) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf strings.Builder
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return []byte(buf.String()), nil
}
