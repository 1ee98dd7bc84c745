// wsbench 压测实时网关的WebSocket接入
// 按爬坡速率建立大量连接，周期发协议层ping测往返延迟，统计收到的事件帧
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"

	"github.com/albin6/social-realtime/pkg/jwt"
)

// Config 压测配置
type Config struct {
	Target       string        // WebSocket URL，例如 ws://localhost:9100/ws
	Conns        int           // 总连接数
	Duration     time.Duration // 压测持续时间
	Ramp         time.Duration // 爬坡时间
	PingInterval time.Duration // 协议层ping间隔
	JWTSecret    string        // 与服务端一致的签名密钥
	UserPrefix   string        // 压测用户ID前缀
	Output       string        // text | json
}

// Stats 统计数据
type Stats struct {
	TotalAttempts  int64
	SuccessConns   int64
	FailedConns    int64
	CurrentConns   int64
	Disconnects    int64
	PingsSent      int64
	PongsReceived  int64
	EventsReceived int64

	mu            sync.Mutex
	connLatencies []int64 // 纳秒
	pingLatencies []int64
}

func (s *Stats) addConnLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connLatencies = append(s.connLatencies, int64(d))
}

func (s *Stats) addPingLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingLatencies = append(s.pingLatencies, int64(d))
}

// wsFrame 网关的消息封包
type wsFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+cfg.Ramp+10*time.Second)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	stats := &Stats{}
	runBench(ctx, cfg, stats)
	report(cfg, stats)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Target, "url", "ws://localhost:9100/ws", "WebSocket接入地址")
	flag.IntVar(&cfg.Conns, "conns", 100, "总连接数")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "压测持续时间")
	flag.DurationVar(&cfg.Ramp, "ramp", 5*time.Second, "连接爬坡时间")
	flag.DurationVar(&cfg.PingInterval, "ping-interval", 10*time.Second, "协议层ping间隔")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "dev-secret-change-me", "JWT签名密钥")
	flag.StringVar(&cfg.UserPrefix, "user-prefix", "bench-user", "压测用户ID前缀")
	flag.StringVar(&cfg.Output, "output", "text", "输出格式 text|json")
	flag.Parse()
	return cfg
}

func runBench(ctx context.Context, cfg Config, stats *Stats) {
	tokens := jwt.NewManager(cfg.JWTSecret)

	interval := time.Duration(0)
	if cfg.Conns > 0 {
		interval = cfg.Ramp / time.Duration(cfg.Conns)
	}

	bar := progressbar.Default(int64(cfg.Conns), "connecting")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Conns; i++ {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runConnection(ctx, id, cfg, tokens, stats)
		}(i)

		_ = bar.Add(1)
		if interval > 0 {
			time.Sleep(interval)
		}
	}
	wg.Wait()
}

func runConnection(ctx context.Context, id int, cfg Config, tokens jwt.Manager, stats *Stats) {
	userID := fmt.Sprintf("%s-%d", cfg.UserPrefix, id)
	token, err := tokens.Generate(fmt.Sprintf("bench-%d", id), userID, time.Hour)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		return
	}

	atomic.AddInt64(&stats.TotalAttempts, 1)
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, cfg.Target+"?token="+token, nil)
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		return
	}
	defer conn.Close()

	stats.addConnLatency(time.Since(start))
	atomic.AddInt64(&stats.SuccessConns, 1)
	atomic.AddInt64(&stats.CurrentConns, 1)
	defer atomic.AddInt64(&stats.CurrentConns, -1)

	deadline := time.Now().Add(cfg.Duration)
	pings := make(map[string]time.Time)
	var pingMu sync.Mutex

	// 读协程
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_ = conn.SetReadDeadline(deadline.Add(5 * time.Second))
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame wsFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				continue
			}
			switch frame.Type {
			case "pong":
				atomic.AddInt64(&stats.PongsReceived, 1)
				pingMu.Lock()
				if sent, ok := pings[frame.ID]; ok {
					stats.addPingLatency(time.Since(sent))
					delete(pings, frame.ID)
				}
				pingMu.Unlock()
			case "message", "notification":
				atomic.AddInt64(&stats.EventsReceived, 1)
			}
		}
	}()

	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			atomic.AddInt64(&stats.Disconnects, 1)
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				return
			}

			pingID := fmt.Sprintf("%d-%d", id, rand.Int63())
			frame, _ := json.Marshal(wsFrame{Type: "ping", ID: pingID, Ts: now.UnixMilli()})

			pingMu.Lock()
			pings[pingID] = now
			pingMu.Unlock()

			_ = conn.SetWriteDeadline(now.Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				atomic.AddInt64(&stats.Disconnects, 1)
				return
			}
			atomic.AddInt64(&stats.PingsSent, 1)
		}
	}
}

// latencySummary 延迟分布摘要，单位毫秒
type latencySummary struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

func summarize(latencies []int64) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := func(p float64) float64 {
		idx := int(p * float64(len(sorted)-1))
		return float64(sorted[idx]) / float64(time.Millisecond)
	}
	return latencySummary{
		P50: pct(0.50),
		P95: pct(0.95),
		P99: pct(0.99),
		Max: float64(sorted[len(sorted)-1]) / float64(time.Millisecond),
	}
}

func report(cfg Config, stats *Stats) {
	stats.mu.Lock()
	connLat := summarize(stats.connLatencies)
	pingLat := summarize(stats.pingLatencies)
	stats.mu.Unlock()

	if cfg.Output == "json" {
		result := map[string]interface{}{
			"total_attempts":  stats.TotalAttempts,
			"success_conns":   stats.SuccessConns,
			"failed_conns":    stats.FailedConns,
			"disconnects":     stats.Disconnects,
			"pings_sent":      stats.PingsSent,
			"pongs_received":  stats.PongsReceived,
			"events_received": stats.EventsReceived,
			"conn_latency_ms": connLat,
			"ping_rtt_ms":     pingLat,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("=== wsbench ===")
	fmt.Printf("connections: %d attempted, %d ok, %d failed, %d dropped\n",
		stats.TotalAttempts, stats.SuccessConns, stats.FailedConns, stats.Disconnects)
	fmt.Printf("conn latency ms: p50=%.1f p95=%.1f p99=%.1f max=%.1f\n",
		connLat.P50, connLat.P95, connLat.P99, connLat.Max)
	fmt.Printf("ping: %d sent, %d pongs, rtt ms p50=%.1f p95=%.1f p99=%.1f\n",
		stats.PingsSent, stats.PongsReceived, pingLat.P50, pingLat.P95, pingLat.P99)
	fmt.Printf("events received: %d\n", stats.EventsReceived)
}
