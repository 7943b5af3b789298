package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Logger 各模块共用的日志接口
type Logger interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Debug(format string, args ...any)
	// Module 打印小节标题，如 "[#] FOFA 查询"
	Module(name string)
}

// Console 带颜色标记的终端日志
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool

	info    *color.Color
	success *color.Color
	warn    *color.Color
	err     *color.Color
	dbg     *color.Color
	module  *color.Color
}

// NewConsole 创建终端日志，debug 为 true 时输出调试信息
func NewConsole(debug bool) *Console {
	return NewConsoleWriter(color.Output, debug)
}

// NewConsoleWriter 写入指定 io.Writer，便于重定向
func NewConsoleWriter(w io.Writer, debug bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		out:     w,
		debug:   debug,
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		err:     color.New(color.FgRed),
		dbg:     color.New(color.FgHiBlack),
		module:  color.New(color.FgMagenta, color.Bold),
	}
}

func (c *Console) print(marker *color.Color, tag, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	marker.Fprint(c.out, tag)
	fmt.Fprintf(c.out, " "+format+"\n", args...)
}

func (c *Console) Info(format string, args ...any)    { c.print(c.info, "[*]", format, args...) }
func (c *Console) Success(format string, args ...any) { c.print(c.success, "[+]", format, args...) }
func (c *Console) Warn(format string, args ...any)    { c.print(c.warn, "[-]", format, args...) }
func (c *Console) Error(format string, args ...any)   { c.print(c.err, "[!]", format, args...) }

func (c *Console) Debug(format string, args ...any) {
	if !c.debug {
		return
	}
	c.print(c.dbg, "[~]", format, args...)
}

func (c *Console) Module(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.module.Fprintf(c.out, "[#] %s\n", name)
}

type nop struct{}

// Nop 丢弃所有输出，测试使用
func Nop() Logger { return nop{} }

func (nop) Info(string, ...any)    {}
func (nop) Success(string, ...any) {}
func (nop) Warn(string, ...any)    {}
func (nop) Error(string, ...any)   {}
func (nop) Debug(string, ...any)   {}
func (nop) Module(string)          {}
