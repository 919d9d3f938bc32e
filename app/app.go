package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"lingua_chat/config"
	"lingua_chat/handler"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App 组装好的服务：路由、实时推送、翻译 worker 和后台任务队列
type App struct {
	Router     *gin.Engine
	Hub        *handler.Hub
	Worker     *service.TranslationWorker
	Queue      *service.RedisJobQueue
	Dispatcher *utils.AsyncDispatcher
}

// New 按配置组装依赖
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	translator, err := service.NewTranslator(cfg.Translation.Provider, cfg.Translation.ProviderURL,
		cfg.Translation.APIKey, cfg.Translation.Timeout)
	if err != nil {
		return nil, err
	}

	// 发送路径上的副作用（翻译分发、私信请求通知）都走这个队列
	dispatcher := utils.NewAsyncDispatcher("async", 4, 1024, 30*time.Second)

	sysSvc := service.NewSystemSettingsService(db)
	notifSvc := service.NewNotificationService(db)
	permSvc := service.NewPermissionService(db)
	relSvc := service.NewRelationshipService(db)
	langSvc := service.NewLanguagePreferenceService(db)
	convSvc := service.NewConversationService(db)
	localizer := service.NewLocalizationService(db, langSvc)

	dmSvc := service.NewDmRequestService(db)
	dmSvc.SetNotifier(notifSvc, dispatcher)

	queue := service.NewRedisJobQueue(rdb)
	pipeline := service.NewTranslationPipeline(db, langSvc, queue, dispatcher, sysSvc, cfg.Translation.MaxLanguages)

	msgSvc := service.NewMessageService(db, rdb, sysSvc, permSvc, dmSvc)
	msgSvc.SetPipeline(pipeline)

	hub := handler.NewHub(rdb, msgSvc)
	msgSvc.SetPublisher(hub)
	dmSvc.SetPublisher(hub)
	notifSvc.SetPublisher(hub)

	worker := service.NewTranslationWorker(db, queue, translator, hub, service.WorkerOptions{
		Concurrency:     cfg.Translation.Workers,
		RatePerSec:      cfg.Translation.RatePerSec,
		MaxAttempts:     cfg.Translation.MaxAttempts,
		BackoffBase:     cfg.Translation.BackoffBase,
		ProviderTimeout: cfg.Translation.Timeout,
	})

	router := handler.NewRouter(&handler.Handlers{
		Conversation: handler.NewConversationHandler(convSvc, langSvc),
		Message:      handler.NewMessageHandler(msgSvc, localizer, pipeline),
		DmRequest:    handler.NewDmRequestHandler(dmSvc, permSvc),
		Relationship: handler.NewRelationshipHandler(relSvc),
		Notification: handler.NewNotificationHandler(notifSvc),
		Settings:     handler.NewSystemSettingsHandler(sysSvc),
		Hub:          hub,
	}, cfg.AdminUserIDs)

	return &App{
		Router:     router,
		Hub:        hub,
		Worker:     worker,
		Queue:      queue,
		Dispatcher: dispatcher,
	}, nil
}

// Start 启动跨 Pod 订阅和翻译 worker
func (a *App) Start(ctx context.Context) error {
	if err := a.Hub.StartPubSub(ctx); err != nil {
		return fmt.Errorf("failed to start pub/sub: %w", err)
	}
	a.Worker.Start(ctx)
	return nil
}

// Stop 先停止接收后台任务，再停 worker 和订阅
func (a *App) Stop() {
	a.Dispatcher.Close()
	a.Worker.Stop()
	a.Hub.StopPubSub()
	log.Println("[INFO] Background workers stopped")
}
