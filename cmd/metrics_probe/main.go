// metrics_probe 抓取运行中实例的 /metrics 与 /healthz，打印 mm_* 指标，用于部署后验证。
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9100", "指标服务地址")
	prefix := flag.String("prefix", "mm_", "仅打印该前缀的指标")
	timeout := flag.Duration("timeout", 5*time.Second, "请求超时")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	base := strings.TrimRight(*addr, "/")

	healthy := true
	body, status, err := get(ctx, base+"/healthz")
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "healthz 请求失败: %v\n", err)
		healthy = false
	case status != http.StatusOK:
		fmt.Printf("healthz: %d %s\n", status, strings.TrimSpace(body))
		healthy = false
	default:
		fmt.Println("healthz: ok")
	}

	body, status, err = get(ctx, base+"/metrics")
	if err != nil || status != http.StatusOK {
		fmt.Fprintf(os.Stderr, "metrics 请求失败: status=%d err=%v\n", status, err)
		os.Exit(1)
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "解析指标失败: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, *prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Printf("未找到 %s* 指标\n", *prefix)
	}
	for _, name := range names {
		for _, m := range families[name].GetMetric() {
			fmt.Printf("%s%s %s\n", name, labels(m), value(families[name].GetType(), m))
		}
	}
	if !healthy {
		os.Exit(2)
	}
}

func get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return string(raw), resp.StatusCode, err
}

func labels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func value(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		if h.GetSampleCount() == 0 {
			return "count=0"
		}
		return fmt.Sprintf("count=%d avg=%g", h.GetSampleCount(), h.GetSampleSum()/float64(h.GetSampleCount()))
	default:
		return fmt.Sprintf("%g", m.GetUntyped().GetValue())
	}
}
