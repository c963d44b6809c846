package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/audiostory/orchestrator/internal/archive"
	"github.com/audiostory/orchestrator/internal/collab/align"
	"github.com/audiostory/orchestrator/internal/collab/sequence"
	"github.com/audiostory/orchestrator/internal/collab/trim"
	"github.com/audiostory/orchestrator/internal/collab/tts"
	"github.com/audiostory/orchestrator/internal/config"
	"github.com/audiostory/orchestrator/internal/domain"
	"github.com/audiostory/orchestrator/internal/embed"
	"github.com/audiostory/orchestrator/internal/events"
	"github.com/audiostory/orchestrator/internal/gpugate"
	"github.com/audiostory/orchestrator/internal/matcher"
	"github.com/audiostory/orchestrator/internal/minioclient"
	"github.com/audiostory/orchestrator/internal/natsclient"
	"github.com/audiostory/orchestrator/internal/pipeline"
	"github.com/audiostory/orchestrator/internal/redisclient"
	"github.com/audiostory/orchestrator/internal/registry"
	"github.com/audiostory/orchestrator/internal/scheduler"
	"github.com/audiostory/orchestrator/internal/store"
	"github.com/audiostory/orchestrator/internal/subproc"
	"github.com/audiostory/orchestrator/internal/transport"
)

const cfgPath = "./configs/local.yaml"

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis *redis.Client
	natsConn *nats.Conn

	store    *store.Store
	registry *registry.Registry
	gpuGate  *gpugate.Gate

	embedder  embed.Provider
	cloner    tts.Cloner
	trimmer   *trim.Trimmer
	seqBuilder *sequence.Builder
	aligner   *align.Aligner

	archiver *archive.Archiver
	notifier *events.Publisher

	pl        *pipeline.Pipeline
	scheduler *scheduler.Scheduler

	usecase transport.Usecase
	router  Router
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(cfgPath)
	}
	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient() *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := redisclient.New(redisclient.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			di.Logger().Warn("redis unavailable, embedding cache disabled", slog.String("error", err.Error()))
			return nil
		}
		di.redis = client
	}
	return di.redis
}

func (di *dependencyInjector) NATSConn() *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsclient.Connect(cfg.URL, natsclient.Config{
			Name:          cfg.ClientName,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			di.Logger().Warn("nats unavailable, lifecycle notifications disabled", slog.String("error", err.Error()))
			return nil
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) Store() *store.Store {
	if di.store == nil {
		s, err := store.New(di.Config().DataRoot, di.Logger())
		if err != nil {
			log.Fatalf("Store: %+v", err)
		}
		di.store = s
	}
	return di.store
}

func (di *dependencyInjector) Registry() *registry.Registry {
	if di.registry == nil {
		r, err := registry.New(di.Store(), di.Store().TaskDir, di.Logger())
		if err != nil {
			log.Fatalf("Registry: %+v", err)
		}
		di.registry = r
	}
	return di.registry
}

func (di *dependencyInjector) GPUGate() *gpugate.Gate {
	if di.gpuGate == nil {
		di.gpuGate = gpugate.New(di.Config().GPU.Permits)
	}
	return di.gpuGate
}

func (di *dependencyInjector) Embedder() embed.Provider {
	if di.embedder == nil {
		hashing := embed.NewHashingProvider()
		if rdb := di.RedisClient(); rdb != nil {
			di.embedder = embed.NewCachedProvider(hashing, rdb, di.Config().Redis.EmbedCacheTTL)
		} else {
			di.embedder = hashing
		}
	}
	return di.embedder
}

func (di *dependencyInjector) Cloner() tts.Cloner {
	if di.cloner == nil {
		di.cloner = tts.NewSubprocessCloner(subproc.New(), di.Config().TTS.HelperPath)
	}
	return di.cloner
}

func (di *dependencyInjector) Trimmer() *trim.Trimmer {
	if di.trimmer == nil {
		di.trimmer = trim.New()
	}
	return di.trimmer
}

func (di *dependencyInjector) SequenceBuilder() *sequence.Builder {
	if di.seqBuilder == nil {
		anchor := matcher.Anchor{Path: di.Config().Anchor.Path}
		di.seqBuilder = sequence.New(di.Embedder(), anchor)
	}
	return di.seqBuilder
}

func (di *dependencyInjector) Aligner() *align.Aligner {
	if di.aligner == nil {
		di.aligner = align.New(di.Config().Steps.AlignMaxParallel)
	}
	return di.aligner
}

func (di *dependencyInjector) Archiver() *archive.Archiver {
	if di.archiver == nil {
		cfg := di.Config().MinIO
		if cfg.Endpoint == "" {
			di.archiver = archive.New(nil, 0, 0, 0, nil)
			return di.archiver
		}

		ctx := context.Background()
		client, err := minioclient.New(ctx, minioclient.Config{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
		})
		if err != nil {
			di.Logger().Warn("minio unavailable, artifact archive disabled", slog.String("error", err.Error()))
			di.archiver = archive.New(nil, 0, 0, 0, nil)
			return di.archiver
		}

		remote := archive.NewMinIORemote(client, cfg.Bucket)
		di.archiver = archive.New(remote, cfg.QueueCapacity, cfg.WorkerNum, cfg.MaxRetries, di.onArchived)
		di.archiver.Start(ctx, cfg.WorkerNum)
	}
	return di.archiver
}

func (di *dependencyInjector) onArchived(taskID, objectName string, err error) {
	if err != nil {
		return
	}
	mutErr := di.Registry().Mutate(taskID, func(t *domain.Task) {
		t.ArchiveObject = objectName
	})
	if mutErr != nil {
		di.Logger().Warn("archive: failed to record archive object",
			slog.String("task_id", taskID), slog.String("error", mutErr.Error()))
	}
}

func (di *dependencyInjector) Notifier() *events.Publisher {
	if di.notifier == nil {
		nc := di.NATSConn()
		if nc == nil {
			return nil
		}
		di.notifier = events.NewPublisher(nc, di.Config().NATS.Subject)
	}
	return di.notifier
}

func (di *dependencyInjector) Pipeline() *pipeline.Pipeline {
	if di.pl == nil {
		cfg := di.Config()

		steps := [domain.TotalSteps]pipeline.StepExecutor{
			pipeline.NewCloneStep(di.Cloner(), di.GPUGate()),
			pipeline.NewTrimStep(di.Trimmer(), cfg.Steps.TrimMaxParallel),
			pipeline.NewSequenceStep(di.SequenceBuilder()),
			pipeline.NewAlignStep(di.Aligner()),
		}

		timeouts := pipeline.StepTimeouts{
			cfg.Steps.CloneTimeout,
			cfg.Steps.TrimTimeout,
			cfg.Steps.SequenceTimeout,
			cfg.Steps.AlignTimeout,
		}

		var notifier pipeline.Notifier
		if n := di.Notifier(); n != nil {
			notifier = n
		}

		di.pl = pipeline.New(di.Registry(), di.Store().TaskDir, steps, timeouts, notifier, di.Archiver(), di.Logger())
	}
	return di.pl
}

func (di *dependencyInjector) Scheduler(ctx context.Context) *scheduler.Scheduler {
	if di.scheduler == nil {
		cfg := di.Config().Scheduler
		di.scheduler = scheduler.New(di.Pipeline(), cfg.Workers, cfg.QueueDepth, di.Logger())
		di.scheduler.Start(ctx)
	}
	return di.scheduler
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		di.usecase = NewUsecase(di.Registry(), di.Scheduler(ctx))
	}
	return di.usecase
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Usecase(ctx))
	}
	return di.router
}

// logRecoveredTasks logs every task left pending/processing-turned-
// failed-interrupted after a restart — the registry already marked it
// failed with Error "interrupted" in Load(); nothing is resubmitted, since
// automatic re-submission of a partially-completed task would silently
// redo already-finished steps without re-deriving what it can skip.
func (di *dependencyInjector) logRecoveredTasks() {
	for _, t := range di.Registry().List() {
		if t.Error == "interrupted" {
			di.Logger().Warn("task left interrupted by a previous restart",
				slog.String("task_id", t.TaskID), slog.Int("current_step", t.CurrentStep))
		}
	}
}
