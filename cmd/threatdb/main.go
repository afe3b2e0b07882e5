package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/threatdb"
	"github.com/sirupsen/logrus"
)

const usage = `用法: threatdb [--config path | --dir path] <command> [args]

命令:
  list                     列出全部威胁记录
  search <keyword>         按包名、家族、描述或标签搜索
  summary                  统计信息
  patterns                 列出代码扫描特征
  add [flags]              添加记录 (至少需要 --hash 或 --package)
  remove <id>              删除记录
`

func main() {
	global := flag.NewFlagSet("threatdb", flag.ExitOnError)
	configPath := global.String("config", "", "配置文件路径")
	dataDir := global.String("dir", "", "威胁库目录，优先于配置文件")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	dir := resolveDir(*configPath, *dataDir)
	store, err := threatdb.Open(dir, logger)
	if err != nil {
		log.Fatalf("Failed to open threat database %s: %v", dir, err)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "list":
		printJSON(store.List())
	case "search":
		if len(rest) == 0 {
			log.Fatal("search 需要关键字")
		}
		printJSON(store.Search(strings.Join(rest, " ")))
	case "summary":
		printJSON(store.Summary())
	case "patterns":
		printJSON(store.Patterns())
	case "add":
		add(store, rest)
	case "remove":
		if len(rest) != 1 {
			log.Fatal("remove 需要记录 id")
		}
		removed, err := store.Remove(rest[0])
		if err != nil {
			log.Fatalf("Failed to remove %s: %v", rest[0], err)
		}
		if !removed {
			log.Fatalf("记录不存在: %s", rest[0])
		}
		fmt.Printf("已删除 %s\n", rest[0])
	default:
		global.Usage()
		os.Exit(2)
	}
}

func resolveDir(configPath, dataDir string) string {
	if dataDir != "" {
		return dataDir
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if cfg.ThreatDB.DataDir != "" {
			return cfg.ThreatDB.DataDir
		}
	}
	return "./data/threatdb"
}

func add(store *threatdb.Store, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	hash := fs.String("hash", "", "样本 SHA256/SHA1")
	pkg := fs.String("package", "", "包名")
	kind := fs.String("type", "malware", "威胁类型")
	family := fs.String("family", "", "家族")
	severity := fs.String("severity", string(threatdb.SeverityMedium), "low/medium/high/critical")
	confidence := fs.Int("confidence", 80, "置信度 0-100")
	desc := fs.String("desc", "", "描述")
	tags := fs.String("tags", "", "逗号分隔的标签")
	_ = fs.Parse(args)

	record := &threatdb.ThreatRecord{
		Hash:        *hash,
		PackageName: *pkg,
		Type:        *kind,
		Family:      *family,
		Severity:    threatdb.Severity(*severity),
		Confidence:  *confidence,
		Description: *desc,
	}
	for _, tag := range strings.Split(*tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			record.Tags = append(record.Tags, tag)
		}
	}

	if err := store.Add(record); err != nil {
		log.Fatalf("Failed to add record: %v", err)
	}
	printJSON(record)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
