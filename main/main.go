package main

import (
	"bytes"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"reflect"
	"runtime"
	"runtime/pprof"

	"go.uber.org/zap"

	"github.com/rawbytedev/parcel"
	"github.com/rawbytedev/parcel/internal/config"
	"github.com/rawbytedev/parcel/internal/observability"
	"github.com/rawbytedev/parcel/pkg/compactwire"
	"github.com/rawbytedev/parcel/pkg/wire"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML or TOML config file")
	iterations := flag.Int("n", 10000, "marshal/unmarshal round trips")
	pprofAddr := flag.String("pprof", "", "pprof listen address, e.g. localhost:6060")
	heapOut := flag.String("memprofile", "mem.prof", "heap profile output path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if *pprofAddr != "" {
		go func() {
			logger.Info("pprof listening", zap.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("pprof stopped", zap.Error(err))
			}
		}()
	}

	reg := parcel.NewRegistry(
		parcel.WithLogger(logger.Named("registry")),
		parcel.WithMaxArrayLength(cfg.Array.MaxLength),
	)
	template, err := parcel.NewPacketFrom(
		parcel.Field{Name: "id", Value: int64(0)},
		parcel.Field{Name: "name", Type: reflect.TypeFor[string]()},
		parcel.Field{Name: "tags", Value: []string{}},
		parcel.Field{Name: "grid", Value: [][]float64{}},
	)
	if err != nil {
		logger.Fatal("template", zap.Error(err))
	}
	if err := reg.Register(template); err != nil {
		logger.Fatal("register template", zap.Error(err))
	}

	msg := template.Clone()
	for name, v := range map[string]any{
		"id":   int64(42),
		"name": "azerty",
		"tags": []string{"hello", "world", "random"},
		"grid": [][]float64{{100.5, 165.63}, {153.5}, {}},
	} {
		if err := msg.PutByName(name, v); err != nil {
			logger.Fatal("fill message", zap.String("field", name), zap.Error(err))
		}
	}

	limits := wire.Limits{
		MaxStringLen: cfg.Wire.MaxStringLen,
		MaxBytesLen:  cfg.Wire.MaxBytesLen,
		MaxObjectLen: cfg.Wire.MaxObjectLen,
	}
	var flags byte
	if cfg.Frame.Compressed() {
		flags |= compactwire.FlagCompressed
	}

	f, err := os.Create(*heapOut)
	if err != nil {
		logger.Fatal("heap profile", zap.Error(err))
	}
	defer f.Close()
	runtime.MemProfileRate = 1

	var (
		frame compactwire.DataFrame
		buf   bytes.Buffer
	)
	for i := 0; i < *iterations; i++ {
		buf.Reset()
		if err := parcel.Encode(wire.NewBinarySink(&buf), reg, msg); err != nil {
			logger.Fatal("encode", zap.Error(err))
		}
		fl := flags
		if buf.Len() < cfg.Frame.MinCompressSize {
			fl &^= compactwire.FlagCompressed
		}
		out, err := frame.EncodeDataFrame(buf.Bytes(), fl, nil)
		if err != nil {
			logger.Fatal("frame", zap.Error(err))
		}
		payload, _, _, err := frame.DecodeDataFrame(out)
		if err != nil {
			logger.Fatal("unframe", zap.Error(err))
		}
		if _, err := parcel.Decode(wire.NewBinarySourceLimits(bytes.NewReader(payload), limits), reg); err != nil {
			logger.Fatal("decode", zap.Error(err))
		}
	}
	logger.Info("round trips complete",
		zap.Int("iterations", *iterations),
		zap.Stringer("fingerprint", template.DynamicFingerprint()),
		zap.Int("encoded_bytes", buf.Len()))

	if err := pprof.WriteHeapProfile(f); err != nil {
		logger.Error("write heap profile", zap.Error(err))
	}
}
