package loader

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"deepx/internal/model"
	"deepx/internal/util"
)

// 编码探测读取的字节数
const sniffSize = 4096

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// isUTF8 检查探测片段是否为合法 UTF-8，末尾被截断的多字节字符不算错误
func isUTF8(buf []byte) bool {
	for i := 1; i <= 3 && i <= len(buf); i++ {
		start := len(buf) - i
		if utf8.RuneStart(buf[start]) {
			if !utf8.FullRune(buf[start:]) {
				buf = buf[:start]
			}
			break
		}
	}
	return utf8.Valid(buf)
}

// openText 打开文本文件，非 UTF-8 时按 GBK 解码
func openText(path string) (io.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		file.Close()
		return nil, nil, err
	}
	buf = buf[:n]
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, nil, err
	}

	var reader io.Reader = file
	if !isUTF8(buf) {
		reader = transform.NewReader(file, simplifiedchinese.GBK.NewDecoder())
	}
	return reader, file.Close, nil
}

// ReadLines 按行读取文本，去除首尾空白、空行与 # 注释行
func ReadLines(path string) ([]string, error) {
	reader, closeFn, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var lines []string
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			line = bytes.TrimPrefix(line, utf8BOM)
			first = false
		}
		text := strings.TrimSpace(string(line))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		lines = append(lines, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadDomainFile 读取每行一个域名的结果文件
func ReadDomainFile(path string) (model.DomainSet, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	set := model.NewDomainSet()
	for _, line := range lines {
		set.Add(util.NormalizeDomain(line))
	}
	return set, nil
}
