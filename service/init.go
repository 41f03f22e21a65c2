/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、模型迁移、规则引擎与周边组件装配
 * @architecture 分层架构 - 服务层
 * @documentReference ai_docs/rule_engine_req.md
 * @stateFlow 应用启动时执行初始化流程
 * @rules 确保所有依赖服务正常启动后才提供API服务；可选组件缺失时降级运行
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres
 * @refs service/rule_engine/service.go
 */

package service

import (
	"fmt"
	"log"
	"os"
	"strings"

	"ruleengine-service/logger"
	"ruleengine-service/service/dataset"
	"ruleengine-service/service/distributed_lock"
	"ruleengine-service/service/models"
	"ruleengine-service/service/notifier"
	"ruleengine-service/service/rule_engine"
	"ruleengine-service/service/scheduler"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB                       *gorm.DB
	GlobalRuleEngineService  *rule_engine.Service
	GlobalNotifier           *notifier.Notifier
	GlobalRetentionScheduler *scheduler.RetentionScheduler
)

func init() {
	logger.InitLogger()
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接
func initDatabase() {
	var dsn string

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		dsn = databaseURL
	} else {
		// 使用分离的环境变量构建连接字符串
		host := getEnvWithDefault("DB_HOST", "localhost")
		port := getEnvWithDefault("DB_PORT", "5432")
		user := getEnvWithDefault("DB_USER", "postgres")
		password := getEnvWithDefault("DB_PASSWORD", "things2024")
		dbname := getEnvWithDefault("DB_NAME", "postgres")
		sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
		schema := getEnvWithDefault("DB_SCHEMA", "public")

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
			host, port, user, password, dbname, sslmode, schema)
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	log.Println("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// runMigrations 运行数据库迁移
func runMigrations() {
	log.Println("开始运行数据库迁移...")

	if err := DB.AutoMigrate(
		&models.QualityRule{},
		&models.RuleExecutionMetric{},
		&models.RuleGenerationMetric{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	log.Println("数据库表结构迁移完成")
}

// initServices 初始化服务
func initServices() {
	GlobalRuleEngineService = rule_engine.NewService(DB)
	GlobalRuleEngineService.SetDatasetAccessor(dataset.NewTableAccessor(DB))

	initNotifier()
	initRetentionScheduler()

	log.Println("服务初始化完成")
}

// initNotifier 初始化校验事件通知，Kafka与MQTT通道均为可选
func initNotifier() {
	GlobalNotifier = notifier.NewNotifier()

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := getEnvWithDefault("KAFKA_VALIDATION_TOPIC", "rule-engine-validation")
		GlobalNotifier.AddPublisher(notifier.NewKafkaPublisher(strings.Split(brokers, ","), topic))
		log.Printf("Kafka校验事件通道已启用: brokers=%s topic=%s", brokers, topic)
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		publisher, err := notifier.NewMQTTPublisher(
			broker,
			getEnvWithDefault("MQTT_CLIENT_ID", "ruleengine-service"),
			os.Getenv("MQTT_USERNAME"),
			os.Getenv("MQTT_PASSWORD"),
		)
		if err != nil {
			log.Printf("MQTT校验事件通道初始化失败: %v", err)
		} else {
			GlobalNotifier.AddPublisher(publisher)
			log.Printf("MQTT校验事件通道已启用: broker=%s", broker)
		}
	}

	GlobalRuleEngineService.SetNotifier(GlobalNotifier)
}

// initRetentionScheduler 初始化指标保留期清理调度器
// Redis可用时启用分布式锁防重，否则单实例直接执行
func initRetentionScheduler() {
	var lock distributed_lock.DistributedLock
	if os.Getenv("REDIS_HOST") != "" {
		redisLock, err := distributed_lock.NewRedisLock()
		if err != nil {
			log.Printf("Redis分布式锁初始化失败，清理任务按单实例执行: %v", err)
		} else {
			lock = redisLock
		}
	}

	GlobalRetentionScheduler = scheduler.NewRetentionScheduler(GlobalRuleEngineService.Metrics(), lock)
	if err := GlobalRetentionScheduler.Start(); err != nil {
		log.Printf("启动指标清理调度器失败: %v", err)
	}
}
