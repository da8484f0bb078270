package config

const (
	defaultDataDir             = "~/.local/share/docflow/data"
	defaultLogDir              = "~/.local/share/docflow/logs"
	defaultInboxDir            = "~/.local/share/docflow/inbox"
	defaultAPIBind             = "127.0.0.1:7319"
	defaultPattern             = "composed"
	defaultConcurrencyCeiling  = 8
	defaultSectionFanout       = 4
	defaultConfidenceThreshold = 0.8
	defaultRetryInitialBackoff = 2
	defaultRetryMaxBackoff     = 300
	defaultRetryMaxAttempts    = 8
	defaultRetryFactor         = 2.0
	defaultServiceTimeout      = 60
	defaultHITLTimeoutPolicy   = "wait"
	defaultReviewTimeout       = 86400
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultStageTimeout        = 3600
	defaultReconcileAfter      = 900
	defaultSweepInterval       = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			InboxDir: defaultInboxDir,
			APIBind:  defaultAPIBind,
		},
		Pipeline: Pipeline{
			Pattern:             defaultPattern,
			ConcurrencyCeiling:  defaultConcurrencyCeiling,
			SectionFanout:       defaultSectionFanout,
			ConfidenceThreshold: defaultConfidenceThreshold,
		},
		Retry: Retry{
			InitialBackoffSeconds: defaultRetryInitialBackoff,
			MaxBackoffSeconds:     defaultRetryMaxBackoff,
			MaxAttempts:           defaultRetryMaxAttempts,
			Factor:                defaultRetryFactor,
		},
		Services: Services{
			OCR:        Service{TimeoutSeconds: defaultServiceTimeout},
			Inference:  Service{TimeoutSeconds: defaultServiceTimeout},
			Jobs:       Service{TimeoutSeconds: defaultServiceTimeout},
			Review:     Service{TimeoutSeconds: defaultServiceTimeout},
			Assessment: Service{TimeoutSeconds: defaultServiceTimeout},
		},
		HITL: HITL{
			TimeoutPolicy:        defaultHITLTimeoutPolicy,
			ReviewTimeoutSeconds: defaultReviewTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			StatusChanges:  true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			StageTimeoutSeconds: defaultStageTimeout,
			ReconcileAfter:      defaultReconcileAfter,
			SweepInterval:       defaultSweepInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
