package analysis

import (
	"deepx/internal/exporter"
	"deepx/internal/loader"
	"deepx/internal/logger"
	"deepx/internal/model"
)

// Compare 计算隐藏资产与全部资产
// hidden = (deep ∪ brute) − fofa，total = deep ∪ fofa ∪ brute
func Compare(deep, fofa, brute model.DomainSet) model.Comparison {
	found := deep.Union(brute)
	return model.Comparison{
		Hidden: found.Minus(fofa),
		Total:  found.Union(fofa),
	}
}

// Files 对比的输入与输出文件，Brute 可为空
type Files struct {
	Deep   string
	Fofa   string
	Brute  string
	Hidden string
	Total  string
}

// Comparator 读取结果文件并对比
type Comparator struct {
	log logger.Logger
}

func NewComparator(log logger.Logger) *Comparator {
	if log == nil {
		log = logger.Nop()
	}
	return &Comparator{log: log}
}

// Run 读取三类结果文件，写出隐藏与全部资产文件
// 读取失败按空集合处理，写入失败只记录日志
func (c *Comparator) Run(files Files) model.Comparison {
	c.log.Module("结果对比")
	deep := c.read("deep", files.Deep)
	fofa := c.read("fofa", files.Fofa)
	brute := c.read("brute", files.Brute)

	result := Compare(deep, fofa, brute)
	c.logStats(deep, fofa, brute, result)

	if files.Hidden != "" {
		if err := exporter.WriteDomainFile(files.Hidden, result.Hidden); err != nil {
			c.log.Error("保存隐藏资产失败: %v", err)
		} else {
			c.log.Success("隐藏资产已保存到 %s", files.Hidden)
		}
	}
	if files.Total != "" {
		if err := exporter.WriteDomainFile(files.Total, result.Total); err != nil {
			c.log.Error("保存全部资产失败: %v", err)
		} else {
			c.log.Success("全部资产已保存到 %s", files.Total)
		}
	}
	return result
}

func (c *Comparator) read(kind, path string) model.DomainSet {
	if path == "" {
		c.log.Debug("未指定%s结果文件", kind)
		return model.NewDomainSet()
	}
	set, err := loader.ReadDomainFile(path)
	if err != nil {
		c.log.Warn("读取%s结果文件 %s 失败: %v", kind, path, err)
		return model.NewDomainSet()
	}
	c.log.Info("从 %s 读取到 %d 个域名", path, set.Len())
	return set
}

func (c *Comparator) logStats(deep, fofa, brute model.DomainSet, result model.Comparison) {
	c.log.Info("deep: %d, fofa: %d, brute: %d", deep.Len(), fofa.Len(), brute.Len())
	c.log.Info("deep ∩ fofa: %d, brute ∩ fofa: %d, brute 独有: %d",
		deep.Intersect(fofa).Len(),
		brute.Intersect(fofa).Len(),
		brute.Minus(deep).Minus(fofa).Len())
	c.log.Success("发现 %d 个隐藏资产，共 %d 个资产", result.Hidden.Len(), result.Total.Len())
}
