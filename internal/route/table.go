package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// 常量定义
const (
	// ManifestFile 是项目根目录下的 manifest 文件名
	ManifestFile = "manifest.json"
	// ManifestPath 是返回原始 manifest 的内置路径，不经过路由分发
	ManifestPath = "/__meta__/manifest.json"
)

// Descriptor 是 manifest 中的一条路由声明。
type Descriptor struct {
	Route string `json:"route"`
	File  string `json:"file"`
}

type manifest struct {
	API json.RawMessage `json:"api"`
}

// Table 是归一化路由到路由条目的不可变映射。
type Table struct {
	raw     string
	entries map[string]*Entry
	order   []*Entry
}

// Parse 解析 manifest 文本并构建路由表。
//
// 解析失败不会导致启动失败：JSON 非法或 api 字段不是数组时记录日志并返回空路由表，
// 原始文本仍被保留，以便通过 ManifestPath 查看。
// 数组中无法解析或缺少 route 的元素记录日志后跳过，其余路由照常加载。
// 重复的路由以 manifest 中最后出现的为准。
func Parse(raw []byte, root string, logger *logrus.Logger) *Table {
	t := &Table{raw: string(raw), entries: make(map[string]*Entry)}
	if len(raw) == 0 {
		return t
	}

	items, err := decode(raw)
	if err != nil {
		logger.WithError(err).Error("load manifest error")
		return t
	}
	for i, item := range items {
		d, err := decodeDescriptor(item)
		if err != nil {
			logger.WithError(err).WithField("index", i).Error("skip manifest api")
			continue
		}
		e := NewEntry(d.Route, d.File, filepath.Join(root, d.File))
		if prev, ok := t.entries[e.Route]; ok {
			t.order = remove(t.order, prev)
		}
		t.entries[e.Route] = e
		t.order = append(t.order, e)
		logger.WithFields(logrus.Fields{"route": e.Route, "file": e.Path}).Info("load manifest")
	}
	return t
}

func decode(raw []byte) ([]json.RawMessage, error) {
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.API) == 0 || string(m.API) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(m.API, &items); err != nil {
		return nil, fmt.Errorf("apis is not list: %w", err)
	}
	return items, nil
}

func decodeDescriptor(item json.RawMessage) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(item, &d); err != nil {
		return d, fmt.Errorf("invalid api %s: %w", item, err)
	}
	if Normalize(d.Route) == "" {
		return d, fmt.Errorf("invalid api %s: route is empty", item)
	}
	return d, nil
}

func remove(list []*Entry, target *Entry) []*Entry {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

// Load 读取 root 目录下的 manifest 文件并构建路由表。
// 文件不存在不是错误，返回空路由表；name 为空时使用 ManifestFile。
func Load(root, name string, logger *logrus.Logger) *Table {
	if name == "" {
		name = ManifestFile
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, name)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.WithField("path", path).Info("manifest not found")
		} else {
			logger.WithError(err).WithField("path", path).Error("load manifest error")
		}
		return Parse(nil, root, logger)
	}
	return Parse(raw, root, logger)
}

// Lookup 按请求路径查找路由，路径是否带开头的斜杠均可。
func (t *Table) Lookup(path string) (*Entry, bool) {
	e, ok := t.entries[Normalize(path)]
	return e, ok
}

// Entries 按 manifest 顺序返回全部路由条目。
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, len(t.order))
	copy(out, t.order)
	return out
}

// Len 返回路由数量。
func (t *Table) Len() int {
	return len(t.entries)
}

// Raw 返回 manifest 原始文本。
func (t *Table) Raw() string {
	return t.raw
}
