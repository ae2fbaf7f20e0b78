package config

const (
	defaultBaseURL               = "https://generativelanguage.googleapis.com/v1beta"
	defaultRequestsPerMinute     = 10
	defaultAspectRatio           = "4:5"
	defaultImageSize             = "2K"
	defaultReferenceMaxDimension = 2048
	defaultMaxAttempts           = 3
	defaultPassThreshold         = 7.0
	defaultCallTimeoutSeconds    = 180
	defaultCritiqueTimeoutSecs   = 90
	defaultRetryBackoffSeconds   = 2
	defaultMaxBackoffSeconds     = 30
	defaultOutputDir             = "output"
	defaultS3Prefix              = "runs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultGridSquareCM          = 10.0
	defaultGridCanvasWidthCM     = 80.0
	defaultGridCanvasHeightCM    = 100.0
	defaultGridMajorEvery        = 2
	defaultGridOpacity           = 0.7
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Gemini: Gemini{
			BaseURL:           defaultBaseURL,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		Generation: Generation{
			AspectRatio:           defaultAspectRatio,
			ImageSize:             defaultImageSize,
			ReferenceMaxDimension: defaultReferenceMaxDimension,
		},
		Pipeline: Pipeline{
			MaxAttempts:            defaultMaxAttempts,
			PassThreshold:          defaultPassThreshold,
			CallTimeoutSeconds:     defaultCallTimeoutSeconds,
			CritiqueTimeoutSeconds: defaultCritiqueTimeoutSecs,
			RetryBackoffSeconds:    defaultRetryBackoffSeconds,
			MaxBackoffSeconds:      defaultMaxBackoffSeconds,
		},
		Output: Output{
			Dir:          defaultOutputDir,
			S3Prefix:     defaultS3Prefix,
			KeepAttempts: true,
		},
		Grid: Grid{
			SquareCM:       defaultGridSquareCM,
			CanvasWidthCM:  defaultGridCanvasWidthCM,
			CanvasHeightCM: defaultGridCanvasHeightCM,
			MajorEvery:     defaultGridMajorEvery,
			Opacity:        defaultGridOpacity,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
