package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/chordial-bot/chordial/chordial"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = chordial.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "chordial [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", chordial.DefaultDatabase)
	viper.SetDefault("database_type", chordial.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		chordial.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		chordial.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", chordial.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", chordial.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", chordial.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		chordial.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		chordial.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		chordial.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		chordial.DefaultDiscordStartupMessage,
	)

	// Lavalink node config
	viper.SetDefault("lavalink.name", chordial.DefaultLavalinkNodeName)
	viper.SetDefault("lavalink.address", chordial.DefaultLavalinkAddress)
	viper.SetDefault("lavalink.password", chordial.DefaultLavalinkPassword)
	viper.SetDefault("lavalink.secure", false)
	viper.SetDefault(
		"lavalink.connect_timeout",
		chordial.DefaultLavalinkConnectTimeout,
	)
	viper.SetDefault(
		"lavalink.log_level",
		chordial.DefaultLavalinkLogLevel.String(),
	)

	// Chat config
	viper.SetDefault("chat.token", "")
	viper.SetDefault("chat.base_url", "")
	viper.SetDefault("chat.log_level", chordial.DefaultChatLogLevel.String())
	viper.SetDefault(
		"chat.max_requests_per_second",
		chordial.DefaultChatMaxRequestsPerSecond,
	)
	viper.SetDefault("chat.request_timeout", chordial.DefaultChatRequestTimeout)
	viper.SetDefault("chat.cooldown", chordial.DefaultChatCooldown)
	viper.SetDefault("chat.history_length", chordial.DefaultChatHistoryLength)

	// Player config
	viper.SetDefault("player.max_queue_size", chordial.DefaultMaxQueueSize)
	viper.SetDefault("player.history_size", chordial.DefaultPlayHistorySize)
	viper.SetDefault(
		"player.auto_disconnect_after",
		chordial.DefaultAutoDisconnectAfter,
	)
	viper.SetDefault("player.command_cooldown", chordial.DefaultCommandCooldown)
	viper.SetDefault("player.search_type", chordial.DefaultSearchType)

	// API config
	viper.SetDefault("api.listen", chordial.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", chordial.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", chordial.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		chordial.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", chordial.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", chordial.DefaultIdleTimeout)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		chordial.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		chordial.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		chordial.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", chordial.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		chordial.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(chordial.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = chordial.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"lavalink.log_level",
		"chat.log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
