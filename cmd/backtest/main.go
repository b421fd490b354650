package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"backpack-mm/config"
	"backpack-mm/hedge"
	"backpack-mm/inventory"
	"backpack-mm/order"
	"backpack-mm/posttrade"
	"backpack-mm/risk"
	"backpack-mm/strategy"
)

type summary struct {
	Symbol         string
	Count          int
	Min            float64
	Max            float64
	Mean           float64
	MaxDrawdownPct float64
	Fills          int
	Hedges         int
	Volume         float64
	FinalPosition  float64
	RealizedPnL    float64
	MarkToMarket   float64
	AdverseRate    float64
}

// 离线回放：逐个 mid 生成报价，下一个 mid 穿过报价即视为 maker 成交，触及 Q_max 时按下一个 mid 市价对冲。
// 用法：
//
//	go run ./cmd/backtest -config configs/config.yaml -symbols ETH_USDC_PERP:data/eth_mids.csv -stepMs 100 -out summaries.csv
func main() {
	cfgPath := flag.String("config", "", "配置文件路径（为空时使用默认参数）")
	symbolFiles := flag.String("symbols", "ETH_USDC_PERP:data/mids_sample.csv", "symbol:csv 列表，逗号分隔")
	stepMs := flag.Int("stepMs", 100, "相邻两个 mid 的时间间隔（毫秒）")
	outPath := flag.String("out", "", "若指定则写入 CSV 汇总")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	}
	cfg.Normalize()

	entries := parseSymbolFiles(*symbolFiles)
	if len(entries) == 0 {
		log.Fatal("未指定任何 symbol:csv")
	}

	var summaries []summary
	for _, entry := range entries {
		sym := strings.ToUpper(entry.symbol)
		mids, err := loadMids(entry.path)
		if err != nil {
			log.Printf("symbol %s 读取 %s 失败: %v", sym, entry.path, err)
			continue
		}
		if len(mids) < 2 {
			log.Printf("symbol %s 数据不足: %s", sym, entry.path)
			continue
		}
		sum, err := replay(cfg, sym, mids, time.Duration(*stepMs)*time.Millisecond)
		if err != nil {
			log.Printf("symbol %s 回放失败: %v", sym, err)
			continue
		}
		log.Printf("symbol=%s mids=%d fills=%d hedges=%d volume=%.4f pos=%.6f realized=%.4f mtm=%.4f adverse=%.1f%% maxDD=%.4f%%",
			sym, sum.Count, sum.Fills, sum.Hedges, sum.Volume, sum.FinalPosition,
			sum.RealizedPnL, sum.MarkToMarket, sum.AdverseRate*100, sum.MaxDrawdownPct)
		summaries = append(summaries, sum)
	}

	if *outPath != "" {
		if err := writeSummaryCSV(*outPath, summaries); err != nil {
			log.Printf("写入汇总 CSV 失败: %v", err)
		} else {
			log.Printf("已写入汇总: %s", *outPath)
		}
	}
}

// replay 与实盘共用报价、库存与对冲组件，只把撮合换成下一个 mid 的穿价判断。
func replay(cfg config.AppConfig, symbol string, mids []float64, step time.Duration) (summary, error) {
	q := cfg.Quoting
	bounds := risk.Bounds{RiskThreshold: cfg.Risk.RiskThreshold, QMax: cfg.Risk.QMax}
	cons := order.SymbolConstraints{
		TickSize: cfg.Instrument.TickSize,
		StepSize: cfg.Instrument.StepSize,
		MinQty:   cfg.Instrument.MinQty,
		MaxQty:   cfg.Instrument.MaxQty,
	}
	if cons.TickSize <= 0 {
		cons = order.SymbolConstraints{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}
	}
	curve, err := strategy.NewSkewCurve(q.SkewCurve)
	if err != nil {
		return summary{}, err
	}
	gen, err := strategy.NewGenerator(strategy.GeneratorConfig{
		HalfSpreadBps: q.HalfSpreadBps,
		MinEdgeBps:    q.MinEdgeBps,
		MaxSkewBps:    q.MaxSkewBps,
		SizeSkew:      q.SizeSkew,
		RiskThreshold: bounds.RiskThreshold,
		Constraints:   cons,
		Curve:         curve,
	})
	if err != nil {
		return summary{}, err
	}
	h := cfg.Hedge
	trigger, err := hedge.NewTrigger(hedge.Config{
		Bounds:        bounds,
		Target:        hedge.Target(h.Target),
		Rearm:         hedge.Rearm(h.Rearm),
		Urgency:       hedge.Urgency(h.Urgency),
		RetryInterval: h.RetryInterval(),
		StepSize:      cons.StepSize,
		MinQty:        cons.MinQty,
	})
	if err != nil {
		return summary{}, err
	}
	inv := inventory.NewTracker(symbol, bounds)
	markout := posttrade.NewAnalyzer(posttrade.DefaultShortHorizon, posttrade.DefaultLongHorizon)
	makerFee := cfg.Paper.MakerFeeBps / 1e4
	takerFee := cfg.Paper.TakerFeeBps / 1e4

	start := time.Unix(0, 0).UTC()
	sum := summary{Symbol: symbol, Count: len(mids)}
	for i := 0; i+1 < len(mids); i++ {
		now := start.Add(time.Duration(i) * step)
		mid, next := mids[i], mids[i+1]
		markout.Observe(mid, now)

		target := gen.Generate(mid, inv.Exposure(), inv.RiskLevel(), q.BaseOrderSizeUSD)
		fills := crossed(target, next)
		for _, f := range fills {
			f.Fee = f.Price * f.Qty * makerFee
			f.Maker = true
			if err := inv.Apply(f); err != nil {
				return sum, err
			}
			markout.OnFill(fmt.Sprintf("q%d", i), f.Side, f.Price, now)
			sum.Fills++
			sum.Volume += f.Qty
		}

		if req := trigger.Check(inv.RiskLevel(), inv.Exposure(), now); req != nil {
			f := inventory.Fill{Side: req.Side, Price: next, Qty: req.Qty, Fee: next * req.Qty * takerFee}
			if err := inv.Apply(f); err != nil {
				return sum, err
			}
			sum.Hedges++
			sum.Volume += req.Qty
		}
	}

	stats := computeStats(mids)
	sum.Min, sum.Max, sum.Mean, sum.MaxDrawdownPct = stats.Min, stats.Max, stats.Mean, stats.MaxDrawdownPct
	p := inv.Position()
	sum.FinalPosition = p.Qty
	sum.RealizedPnL = p.RealizedPnL
	_, unrealized := inv.Valuation(mids[len(mids)-1])
	sum.MarkToMarket = p.RealizedPnL + unrealized
	sum.AdverseRate = markout.Stats().AdverseSelectionRate
	return sum, nil
}

// crossed 下一个 mid 穿过报价则按报价全部成交。
func crossed(target order.QuoteTarget, next float64) []inventory.Fill {
	var fills []inventory.Fill
	if b := target.Bid; b != nil && next <= b.Price {
		fills = append(fills, inventory.Fill{Side: order.SideBuy, Price: b.Price, Qty: b.Size})
	}
	if a := target.Ask; a != nil && next >= a.Price {
		fills = append(fills, inventory.Fill{Side: order.SideSell, Price: a.Price, Qty: a.Size})
	}
	return fills
}

type symbolFile struct {
	symbol string
	path   string
}

func parseSymbolFiles(arg string) []symbolFile {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	var out []symbolFile
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items := strings.SplitN(p, ":", 2)
		if len(items) != 2 {
			continue
		}
		out = append(out, symbolFile{symbol: strings.TrimSpace(items[0]), path: strings.TrimSpace(items[1])})
	}
	return out
}

type statsResult struct {
	Min            float64
	Max            float64
	Mean           float64
	MaxDrawdownPct float64
}

func computeStats(series []float64) statsResult {
	if len(series) == 0 {
		return statsResult{}
	}
	lo, hi := series[0], series[0]
	sum := 0.0
	peak := series[0]
	maxDD := 0.0
	for _, v := range series {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
		if v > peak {
			peak = v
		}
		if peak != 0 {
			if dd := (peak - v) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return statsResult{Min: lo, Max: hi, Mean: sum / float64(len(series)), MaxDrawdownPct: maxDD}
}

// loadMids 读取首列为 mid 的 CSV，无法解析的行（如表头）跳过。
func loadMids(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func writeSummaryCSV(path string, sums []summary) error {
	if len(sums) == 0 {
		return fmt.Errorf("no summary data")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := []string{"symbol", "count", "min", "max", "mean", "maxDrawdownPct",
		"fills", "hedges", "volume", "finalPosition", "realizedPnl", "markToMarket", "adverseRate"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, s := range sums {
		record := []string{
			s.Symbol,
			strconv.Itoa(s.Count),
			fmt.Sprintf("%.6f", s.Min),
			fmt.Sprintf("%.6f", s.Max),
			fmt.Sprintf("%.6f", s.Mean),
			fmt.Sprintf("%.6f", s.MaxDrawdownPct),
			strconv.Itoa(s.Fills),
			strconv.Itoa(s.Hedges),
			fmt.Sprintf("%.6f", s.Volume),
			fmt.Sprintf("%.6f", s.FinalPosition),
			fmt.Sprintf("%.6f", s.RealizedPnL),
			fmt.Sprintf("%.6f", s.MarkToMarket),
			fmt.Sprintf("%.4f", s.AdverseRate),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
