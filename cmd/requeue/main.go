package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/apk-analysis/apk-triage-go/internal/config"
	"github.com/apk-analysis/apk-triage-go/internal/queue"
	"github.com/sirupsen/logrus"
)

// 把目录中的 APK 逐个发布到分析队列，用于服务外批量补投
// 用法: requeue <apk 目录> [config.yaml]
func main() {
	if len(os.Args) < 2 {
		log.Fatal("用法: requeue <apk 目录> [config.yaml]")
	}
	dir := os.Args[1]
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	mq, err := queue.NewRabbitMQ(&cfg.RabbitMQ, 1, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer mq.Close()

	// 服务外投递，任务由消费端登记
	producer := queue.NewProducer(mq, nil, logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".apk") {
			files = append(files, e.Name())
		}
	}
	fmt.Printf("找到 %d 个 APK\n", len(files))

	successCount := 0
	for i, name := range files {
		path, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Failed to resolve %s: %v", name, err)
			continue
		}

		jobID, err := producer.Submit(path, name)
		if err != nil {
			log.Printf("Failed to publish %s: %v", name, err)
			continue
		}
		logger.WithFields(logrus.Fields{"job_id": jobID, "file": name}).Debug("Published")

		successCount++
		if (i+1)%100 == 0 {
			fmt.Printf("进度: %d/%d\n", i+1, len(files))
		}
	}

	fmt.Printf("\n成功入队 %d/%d 个 APK\n", successCount, len(files))
}
