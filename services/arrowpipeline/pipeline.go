// Package arrowpipeline serializes bar history and run output as Apache
// Arrow IPC streams for interchange with analysis tooling.
package arrowpipeline

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/engine"
)

// Pipeline owns the allocator shared by all encode and decode calls.
type Pipeline struct {
	memoryPool memory.Allocator
	logger     *zap.Logger
}

// NewPipeline creates a pipeline. A nil logger is replaced with a no-op one.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

var barSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EncodeBars serializes one symbol's bars as an Arrow IPC stream. Prices
// cross the boundary as float64; the decimal originals stay inside the
// engine.
func (p *Pipeline) EncodeBars(series engine.BarSeries) ([]byte, error) {
	if len(series.Bars) == 0 {
		return nil, fmt.Errorf("no bars to encode")
	}

	symbolBuilder := array.NewStringBuilder(p.memoryPool)
	defer symbolBuilder.Release()
	timestampBuilder := array.NewInt64Builder(p.memoryPool)
	defer timestampBuilder.Release()
	openBuilder := array.NewFloat64Builder(p.memoryPool)
	defer openBuilder.Release()
	highBuilder := array.NewFloat64Builder(p.memoryPool)
	defer highBuilder.Release()
	lowBuilder := array.NewFloat64Builder(p.memoryPool)
	defer lowBuilder.Release()
	closeBuilder := array.NewFloat64Builder(p.memoryPool)
	defer closeBuilder.Release()
	volumeBuilder := array.NewFloat64Builder(p.memoryPool)
	defer volumeBuilder.Release()

	for i := range series.Bars {
		b := &series.Bars[i]
		symbolBuilder.Append(series.Symbol)
		timestampBuilder.Append(b.Timestamp)
		openBuilder.Append(b.Open.InexactFloat64())
		highBuilder.Append(b.High.InexactFloat64())
		lowBuilder.Append(b.Low.InexactFloat64())
		closeBuilder.Append(b.Close.InexactFloat64())
		volumeBuilder.Append(b.Volume.InexactFloat64())
	}

	record := array.NewRecord(barSchema, []arrow.Array{
		symbolBuilder.NewStringArray(),
		timestampBuilder.NewInt64Array(),
		openBuilder.NewFloat64Array(),
		highBuilder.NewFloat64Array(),
		lowBuilder.NewFloat64Array(),
		closeBuilder.NewFloat64Array(),
		volumeBuilder.NewFloat64Array(),
	}, int64(len(series.Bars)))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(barSchema), ipc.WithAllocator(p.memoryPool))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write bar record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close bar stream: %w", err)
	}

	p.logger.Debug("encoded bar stream",
		zap.String("symbol", series.Symbol),
		zap.Int("bars", len(series.Bars)),
		zap.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

// DecodeBars reads an EncodeBars stream back into a bar series. Every record
// must carry a single symbol.
func (p *Pipeline) DecodeBars(data []byte) (engine.BarSeries, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return engine.BarSeries{}, fmt.Errorf("open bar stream: %w", err)
	}
	defer reader.Release()

	var series engine.BarSeries
	for reader.Next() {
		record := reader.Record()
		symbols := record.Column(0).(*array.String)
		timestamps := record.Column(1).(*array.Int64)
		opens := record.Column(2).(*array.Float64)
		highs := record.Column(3).(*array.Float64)
		lows := record.Column(4).(*array.Float64)
		closes := record.Column(5).(*array.Float64)
		volumes := record.Column(6).(*array.Float64)

		for i := 0; i < int(record.NumRows()); i++ {
			sym := symbols.Value(i)
			if series.Symbol == "" {
				series.Symbol = sym
			} else if sym != series.Symbol {
				return engine.BarSeries{}, fmt.Errorf("mixed symbols in bar stream: %s and %s", series.Symbol, sym)
			}
			series.Bars = append(series.Bars, engine.Bar{
				Timestamp: timestamps.Value(i),
				Open:      decimal.NewFromFloat(opens.Value(i)),
				High:      decimal.NewFromFloat(highs.Value(i)),
				Low:       decimal.NewFromFloat(lows.Value(i)),
				Close:     decimal.NewFromFloat(closes.Value(i)),
				Volume:    decimal.NewFromFloat(volumes.Value(i)),
			})
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return engine.BarSeries{}, fmt.Errorf("read bar stream: %w", err)
	}
	if len(series.Bars) == 0 {
		return engine.BarSeries{}, fmt.Errorf("empty bar stream")
	}
	return series, nil
}

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drawdown", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// EncodeEquityCurve serializes a run's equity curve as an Arrow IPC stream.
func (p *Pipeline) EncodeEquityCurve(curve []engine.EquityPoint) ([]byte, error) {
	if len(curve) == 0 {
		return nil, fmt.Errorf("no equity points to encode")
	}

	timestampBuilder := array.NewInt64Builder(p.memoryPool)
	defer timestampBuilder.Release()
	equityBuilder := array.NewFloat64Builder(p.memoryPool)
	defer equityBuilder.Release()
	drawdownBuilder := array.NewFloat64Builder(p.memoryPool)
	defer drawdownBuilder.Release()

	for i := range curve {
		timestampBuilder.Append(curve[i].Timestamp)
		equityBuilder.Append(curve[i].Equity.InexactFloat64())
		drawdownBuilder.Append(curve[i].Drawdown.InexactFloat64())
	}

	record := array.NewRecord(equitySchema, []arrow.Array{
		timestampBuilder.NewInt64Array(),
		equityBuilder.NewFloat64Array(),
		drawdownBuilder.NewFloat64Array(),
	}, int64(len(curve)))
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(equitySchema), ipc.WithAllocator(p.memoryPool))
	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("write equity record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close equity stream: %w", err)
	}
	return buf.Bytes(), nil
}
