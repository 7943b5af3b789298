package dictionary

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deepx/internal/loader"
	"deepx/internal/logger"
	"deepx/internal/model"
	"deepx/internal/util"
)

// 长度不足的前缀不入字典
const minWordLen = 2

// Dictionary 子域名前缀字典，一行一个词
type Dictionary struct {
	path       string
	multiLevel bool
	log        logger.Logger
}

// New 创建字典，multiLevel 为 true 时多级前缀的每一段都会入字典
func New(path string, multiLevel bool, log logger.Logger) *Dictionary {
	if log == nil {
		log = logger.Nop()
	}
	return &Dictionary{path: path, multiLevel: multiLevel, log: log}
}

// Path 字典文件路径
func (d *Dictionary) Path() string { return d.path }

// Load 读取字典文件，文件不存在时返回空集合
func (d *Dictionary) Load() (model.DomainSet, error) {
	lines, err := loader.ReadLines(d.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.NewDomainSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取字典失败: %w", err)
	}
	words := model.NewDomainSet()
	for _, line := range lines {
		words.Add(strings.ToLower(line))
	}
	return words, nil
}

// Words 排序后的字典词，文件不存在视为错误
func (d *Dictionary) Words() ([]string, error) {
	if _, err := os.Stat(d.path); err != nil {
		return nil, fmt.Errorf("字典文件不可用: %w", err)
	}
	words, err := d.Load()
	if err != nil {
		return nil, err
	}
	return words.Sorted(), nil
}

// ExtractWords 从子域名中提取前缀词
func (d *Dictionary) ExtractWords(domain, target string) []string {
	domain = util.NormalizeDomain(domain)
	target = util.NormalizeDomain(target)
	if !strings.HasSuffix(domain, "."+target) {
		return nil
	}
	prefix := strings.TrimSuffix(domain, "."+target)
	labels := strings.Split(prefix, ".")

	if !d.multiLevel {
		if len(labels) != 1 || !validWord(labels[0]) {
			return nil
		}
		return labels
	}

	var words []string
	for i, label := range labels {
		if validWord(label) {
			words = append(words, label)
		}
		if i+1 < len(labels) && validWord(label) && validWord(labels[i+1]) {
			words = append(words, label+"."+labels[i+1])
		}
	}
	return words
}

func validWord(w string) bool {
	if len(w) < minWordLen {
		return false
	}
	for _, r := range w {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Update 将 domains 中提取的新前缀并入字典，有新词时按序重写文件
func (d *Dictionary) Update(target string, domains model.DomainSet) (int, error) {
	existing, err := d.Load()
	if err != nil {
		return 0, err
	}
	added := 0
	for domain := range domains {
		for _, w := range d.ExtractWords(domain, target) {
			if !existing.Has(w) {
				existing.Add(w)
				added++
			}
		}
	}
	if added == 0 {
		d.log.Debug("[Dict] 没有新的字典词")
		return 0, nil
	}
	if err := d.write(existing); err != nil {
		return 0, err
	}
	d.log.Success("[Dict] 字典新增%d个词，共%d个", added, existing.Len())
	return added, nil
}

func (d *Dictionary) write(words model.DomainSet) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("创建字典目录失败: %w", err)
	}
	tmp := d.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("写入字典失败: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, word := range words.Sorted() {
		w.WriteString(word)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("写入字典失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("写入字典失败: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("写入字典失败: %w", err)
	}
	return nil
}
