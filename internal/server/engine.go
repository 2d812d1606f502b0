package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/umbradb/umbra/internal/config"
	"github.com/umbradb/umbra/internal/metrics"
	"github.com/umbradb/umbra/internal/resp"
	"github.com/umbradb/umbra/internal/store"
	"go.uber.org/zap"
)

// command is one executable entry of the registry
type command interface {
	execute(ctx *context) resp.Value
}

type commandFunc func(ctx *context) resp.Value

func (f commandFunc) execute(ctx *context) resp.Value {
	return f(ctx)
}

// context carries one command invocation: the raw arguments (argv[0]
// excluded) and the shared store
type context struct {
	args  [][]byte
	store *store.Store
}

// registration binds a handler to its arity. Arity counts the command name
// itself; negative means "at least |arity|" (the redis convention)
type registration struct {
	handler command
	arity   int
}

// Engine coordinates the execution of commands and runs the background
// expiration sweeper over the shared store
type Engine struct {
	commands map[string]registration // the key is the command name in uppercase
	store    *store.Store
	cfg      *config.Config
	stopGC   chan struct{} // channel for the background sweeper stop signal
	stopOnce sync.Once     // ensures that the stop happens only once
	logger   *zap.Logger
}

// NewEngine initializes the engine, registers the basic commands, and
// if enabled in the config, starts background cleanup of expired keys
func NewEngine(s *store.Store, cfg *config.Config, logger *zap.Logger) *Engine {
	engine := &Engine{
		commands: make(map[string]registration),
		store:    s,
		cfg:      cfg,
		stopGC:   make(chan struct{}),
		logger:   logger,
	}
	engine.registerBasicCommands()

	if cfg.GC.Enabled {
		go engine.startSweeper()
	}

	return engine
}

// register adds a new command to the engine. The command name is uppercase
func (e *Engine) register(name string, arity int, cmd command) {
	e.commands[strings.ToUpper(name)] = registration{handler: cmd, arity: arity}
}

// registerBasicCommands fills the registry with the supported command set
func (e *Engine) registerBasicCommands() {
	e.register("PING", -1, commandFunc(ping))
	e.register("ECHO", 2, commandFunc(echo))
	e.register("GET", 2, commandFunc(get))
	e.register("SET", -3, commandFunc(set))
	e.register("EXISTS", -2, commandFunc(exists))
	e.register("DEL", -2, commandFunc(del))
	e.register("INCR", 2, commandFunc(deltaCommand(fixedDelta(1))))
	e.register("DECR", 2, commandFunc(deltaCommand(fixedDelta(-1))))
	e.register("INCRBY", 3, commandFunc(deltaCommand(argDelta(1))))
	e.register("DECRBY", 3, commandFunc(deltaCommand(argDelta(-1))))
	e.register("TTL", 2, commandFunc(ttl))
	e.register("PTTL", 2, commandFunc(pttl))
	e.register("PERSIST", 2, commandFunc(persist))
	e.register("LPUSH", -3, commandFunc(pushCommand(true)))
	e.register("RPUSH", -3, commandFunc(pushCommand(false)))
	e.register("LRANGE", 4, commandFunc(lrange))
	e.register("LLEN", 2, commandFunc(llen))
}

// Execute finds the command by name and executes it with the passed
// arguments. The name is matched case-insensitively. Arity is validated
// before the handler runs, so a malformed call never touches the store
func (e *Engine) Execute(name string, args [][]byte) resp.Value {
	upper := strings.ToUpper(name)

	if e.logger.Core().Enabled(zap.DebugLevel) {
		e.logger.Debug("executing command",
			zap.String("cmd", upper),
			zap.Int("args_count", len(args)),
		)
	}

	reg, ok := e.commands[upper]
	if !ok {
		return resp.MakeError(fmt.Sprintf("ERR unknown command '%s'", name))
	}

	argc := len(args) + 1
	if reg.arity >= 0 && argc != reg.arity || reg.arity < 0 && argc < -reg.arity {
		return resp.MakeErrorWrongNumberOfArguments(strings.ToLower(upper))
	}

	metrics.CommandsTotal.WithLabelValues(upper).Inc()

	ctx := &context{
		args:  args,
		store: e.store,
	}
	return reg.handler.execute(ctx)
}

// startSweeper triggers the active expiration mechanism on a fixed interval
func (e *Engine) startSweeper() {
	ticker := time.NewTicker(e.cfg.GC.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweep()
		case <-e.stopGC:
			e.logger.Info("expiration sweeper stopped")
			return
		}
	}
}

// sweep runs one adaptive expiration cycle: sample a handful of keys, probe
// them through the store's ordinary read path (which collects expired
// objects), and keep going while the expired fraction stays above the
// threshold. The round cap keeps a burst of dead keys from starving the
// ticker
func (e *Engine) sweep() {
	for round := 0; round < e.cfg.GC.MaxRounds; round++ {
		keys := e.store.SampleKeys(e.cfg.GC.SamplesPerCheck)
		if len(keys) == 0 {
			return
		}

		expired := 0
		for _, key := range keys {
			if !e.store.Exists(key) {
				expired++
			}
		}

		if expired > 0 {
			metrics.ExpiredKeysTotal.Add(float64(expired))
			if e.logger.Core().Enabled(zap.DebugLevel) {
				e.logger.Debug("sweeper collected expired keys",
					zap.Int("expired", expired),
					zap.Int("sampled", len(keys)),
					zap.Int("round", round),
				)
			}
		}

		if float64(expired)/float64(len(keys)) < e.cfg.GC.MatchThreshold {
			return
		}
	}
}

// Shutdown shuts down the engine and its background services correctly
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		if e.cfg.GC.Enabled {
			close(e.stopGC)
		}
	})
}
