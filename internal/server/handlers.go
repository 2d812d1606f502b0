package server

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/umbradb/umbra/internal/resp"
	"github.com/umbradb/umbra/internal/store"
)

var (
	errSyntax = errors.New("syntax error")
)

// errorReply converts a store or validation error into a RESP error value.
// WRONGTYPE already carries its own prefix; everything else is a plain ERR
func errorReply(err error) resp.Value {
	if errors.Is(err, store.ErrWrongType) {
		return resp.MakeError(err.Error())
	}
	return resp.MakeError("ERR " + err.Error())
}

func ping(ctx *context) resp.Value {
	switch len(ctx.args) {
	case 0:
		return resp.MakeSimpleString("PONG")
	case 1:
		return resp.MakeBulkBytes(ctx.args[0])
	}
	return resp.MakeErrorWrongNumberOfArguments("ping")
}

func echo(ctx *context) resp.Value {
	return resp.MakeBulkBytes(ctx.args[0])
}

func get(ctx *context) resp.Value {
	v, ok := ctx.store.Get(string(ctx.args[0]))
	if !ok {
		return resp.MakeNilBulkString()
	}

	b, ok := v.Bytes()
	if !ok {
		return errorReply(store.ErrWrongType)
	}
	return resp.MakeBulkBytes(b)
}

// set parses SET key value [EX s|PX ms|EXAT ts|PXAT ts] [NX|XX] [KEEPTTL].
// A blocked NX/XX write replies nil, everything else OK
func set(ctx *context) resp.Value {
	opts, err := parseSetOptions(ctx.args[2:])
	if err != nil {
		return errorReply(err)
	}

	written := ctx.store.Set(string(ctx.args[0]), store.NewStringValue(ctx.args[1]), opts)
	if !written {
		return resp.MakeNilBulkString()
	}
	return resp.MakeSimpleString("OK")
}

func parseSetOptions(args [][]byte) (store.SetOptions, error) {
	var opts store.SetOptions

	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "KEEPTTL":
			opts.KeepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return opts, errSyntax
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil || n <= 0 {
				return opts, store.ErrNotInteger
			}
			switch strings.ToUpper(string(args[i])) {
			case "EX":
				opts.TTL = time.Duration(n) * time.Second
			case "PX":
				opts.TTL = time.Duration(n) * time.Millisecond
			case "EXAT":
				opts.ExpireAt = time.Unix(n, 0)
			case "PXAT":
				opts.ExpireAt = time.UnixMilli(n)
			}
			i++
		default:
			return opts, errSyntax
		}
	}

	if opts.NX && opts.XX {
		return opts, errSyntax
	}
	return opts, nil
}

func exists(ctx *context) resp.Value {
	var found int64
	for _, key := range ctx.args {
		if ctx.store.Exists(string(key)) {
			found++
		}
	}
	return resp.MakeInteger(found)
}

func del(ctx *context) resp.Value {
	var deleted int64
	for _, key := range ctx.args {
		if ctx.store.Delete(string(key)) {
			deleted++
		}
	}
	return resp.MakeInteger(deleted)
}

// deltaResolver produces the signed delta of one arithmetic command.
// INCR/DECR/INCRBY/DECRBY are the same operation with different deltas, so
// the overflow and type checks live in exactly one place: store.IncrBy
type deltaResolver func(args [][]byte) (int64, error)

// fixedDelta is INCR (+1) and DECR (-1)
func fixedDelta(d int64) deltaResolver {
	return func([][]byte) (int64, error) {
		return d, nil
	}
}

// argDelta parses the delta argument of INCRBY/DECRBY; sign -1 negates it.
// Negating MinInt64 is itself an overflow and is rejected up front
func argDelta(sign int64) deltaResolver {
	return func(args [][]byte) (int64, error) {
		n, err := strconv.ParseInt(string(args[1]), 10, 64)
		if err != nil {
			return 0, store.ErrNotInteger
		}
		if sign < 0 {
			if n == math.MinInt64 {
				return 0, store.ErrOverflow
			}
			n = -n
		}
		return n, nil
	}
}

func deltaCommand(resolve deltaResolver) func(ctx *context) resp.Value {
	return func(ctx *context) resp.Value {
		delta, err := resolve(ctx.args)
		if err != nil {
			return errorReply(err)
		}

		n, err := ctx.store.IncrBy(string(ctx.args[0]), delta)
		if err != nil {
			return errorReply(err)
		}
		return resp.MakeInteger(n)
	}
}

func ttl(ctx *context) resp.Value {
	d, status := ctx.store.Expiry(string(ctx.args[0]))
	if status != store.ExpActive {
		return resp.MakeInteger(int64(status))
	}
	// round up so a key set with EX 1 reports 1 until it is gone
	secs := int64((d + time.Second - 1) / time.Second)
	return resp.MakeInteger(secs)
}

func pttl(ctx *context) resp.Value {
	d, status := ctx.store.Expiry(string(ctx.args[0]))
	if status != store.ExpActive {
		return resp.MakeInteger(int64(status))
	}
	return resp.MakeInteger(d.Milliseconds())
}

func persist(ctx *context) resp.Value {
	return resp.MakeInteger(ctx.store.Persist(string(ctx.args[0])))
}

func pushCommand(front bool) func(ctx *context) resp.Value {
	return func(ctx *context) resp.Value {
		n, err := ctx.store.Push(string(ctx.args[0]), front, ctx.args[1:])
		if err != nil {
			return errorReply(err)
		}
		return resp.MakeInteger(n)
	}
}

func lrange(ctx *context) resp.Value {
	start, err1 := strconv.ParseInt(string(ctx.args[1]), 10, 64)
	stop, err2 := strconv.ParseInt(string(ctx.args[2]), 10, 64)
	if err1 != nil || err2 != nil {
		return errorReply(store.ErrNotInteger)
	}

	elems, err := ctx.store.Range(string(ctx.args[0]), start, stop)
	if err != nil {
		return errorReply(err)
	}

	out := make([]resp.Value, len(elems))
	for i, el := range elems {
		out[i] = resp.MakeBulkBytes(el)
	}
	return resp.MakeArray(out)
}

func llen(ctx *context) resp.Value {
	n, err := ctx.store.ListLen(string(ctx.args[0]))
	if err != nil {
		return errorReply(err)
	}
	return resp.MakeInteger(n)
}
