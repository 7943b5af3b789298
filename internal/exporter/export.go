package exporter

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"deepx/internal/database"
	"deepx/internal/model"
)

// WriteDomainFile 按字典序写入域名，每行一个，以换行结尾
func WriteDomainFile(path string, set model.DomainSet) error {
	return WriteLines(path, set.Sorted())
}

// WriteLines 写入文本行，自动创建目录
func WriteLines(path string, lines []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return file.Close()
}

// ExportAssetsToCSV 导出资产库到 CSV
func ExportAssetsToCSV(assets []database.Asset, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	// 写入UTF-8 BOM，确保Excel等软件能正确识别中文
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	writer.Write([]string{
		"Domain", "Sources", "Hidden", "Alive", "StatusCode", "Title", "URL", "FirstSeen", "LastSeen",
	})
	for _, a := range assets {
		status := ""
		if a.StatusCode > 0 {
			status = strconv.Itoa(a.StatusCode)
		}
		writer.Write([]string{
			a.Domain,
			a.Sources,
			strconv.FormatBool(a.Hidden),
			a.AliveState(),
			status,
			a.Title,
			a.URL,
			a.FirstSeen.Format("2006-01-02 15:04:05"),
			a.LastSeen.Format("2006-01-02 15:04:05"),
		})
	}
	writer.Flush()
	return writer.Error()
}
