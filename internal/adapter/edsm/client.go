package edsm

import (
	"EliteCompanion/internal/config"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://www.edsm.net/api-v1"

// ErrNotFound — EDSM не знает такой системы.
var ErrNotFound = errors.New("edsm: system not found")

// SystemInfo — справочные данные о звёздной системе.
type SystemInfo struct {
	Name       string
	Allegiance string
	Government string
	Population *int64
	Security   string
	Economy    string
	StarType   string
	Scoopable  bool
	Bodies     int
	Landable   int
}

// Звёзды главной последовательности, пригодные для заправки.
var scoopable = []string{
	"O (Blue-White)", "B (Blue-White)", "A (Blue-White)", "F (White)",
	"G (Yellow-White)", "K (Yellow-Orange)", "M (Red)",
}

// Client — клиент EDSM с кэшем по имени системы. Ошибки сети не кэшируются.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	cache map[string]*SystemInfo // nil — система не найдена
}

func New(cfg config.EDSMConfig, logger *zap.SugaredLogger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		cache:   make(map[string]*SystemInfo),
	}
}

type systemResponse struct {
	Name        string `json:"name"`
	Information struct {
		Allegiance string `json:"allegiance"`
		Government string `json:"government"`
		Population *int64 `json:"population"`
		Security   string `json:"security"`
		Economy    string `json:"economy"`
	} `json:"information"`
}

type bodiesResponse struct {
	Bodies []struct {
		Type       string `json:"type"`
		SubType    string `json:"subType"`
		IsLandable bool   `json:"isLandable"`
	} `json:"bodies"`
}

// SystemInfo возвращает данные о системе (из кэша, если уже запрашивали).
func (c *Client) SystemInfo(ctx context.Context, name string) (*SystemInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	c.mu.Lock()
	info, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		if info == nil {
			return nil, ErrNotFound
		}
		return info, nil
	}

	info, err := c.fetch(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	c.mu.Lock()
	c.cache[name] = info
	c.mu.Unlock()
	if info == nil {
		return nil, ErrNotFound
	}
	return info, nil
}

// Describe — краткое описание системы для промпта.
func (c *Client) Describe(ctx context.Context, system string) (string, error) {
	info, err := c.SystemInfo(ctx, system)
	if err != nil {
		return "", err
	}
	return info.Description(), nil
}

func (c *Client) fetch(ctx context.Context, name string) (*SystemInfo, error) {
	started := time.Now()
	var sys systemResponse
	found, err := c.get(ctx, "/system", url.Values{"systemName": {name}, "showInformation": {"1"}, "showPermits": {"0"}}, &sys)
	if err != nil {
		return nil, err
	}
	if !found || sys.Name == "" {
		return nil, ErrNotFound
	}
	info := &SystemInfo{
		Name:       sys.Name,
		Allegiance: sys.Information.Allegiance,
		Government: sys.Information.Government,
		Population: sys.Information.Population,
		Security:   sys.Information.Security,
		Economy:    sys.Information.Economy,
	}

	// Тела системы необязательны: без них описание просто короче
	var bodies bodiesResponse
	if ok, err := c.get(ctx, "/system-bodies", url.Values{"systemName": {name}}, &bodies); err != nil {
		c.logger.Warnw("EDSM bodies request failed", "system", name, "error", err)
	} else if ok {
		for _, b := range bodies.Bodies {
			if b.Type == "Star" && info.StarType == "" {
				info.StarType = b.SubType
				info.Scoopable = slices.Contains(scoopable, b.SubType)
			}
			if b.IsLandable {
				info.Landable++
			}
		}
		info.Bodies = len(bodies.Bodies)
	}
	c.logger.Infow("EDSM system fetched", "system", name, "took", time.Since(started).String())
	return info, nil
}

// get выполняет GET и декодирует JSON-объект. EDSM отвечает пустым массивом, если данных нет — тогда false.
func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "EliteCompanion/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("edsm: status=%d, body=%s", resp.StatusCode, bytes.TrimSpace(body[:min(len(body), 512)]))
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] == '[' {
		return false, nil
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return false, fmt.Errorf("edsm: decode %s: %w", path, err)
	}
	return true, nil
}

// Description — человекочитаемое описание системы.
func (s SystemInfo) Description() string {
	var parts []string
	if s.Allegiance != "" {
		parts = append(parts, s.Allegiance+" controlled")
	}
	if s.Government != "" {
		parts = append(parts, strings.ToLower(s.Government)+" government")
	}
	if s.Population != nil {
		parts = append(parts, populationDesc(*s.Population))
	}
	if s.Security != "" && !strings.EqualFold(s.Security, "none") {
		parts = append(parts, strings.ToLower(s.Security)+" security")
	}
	if s.Economy != "" {
		parts = append(parts, strings.ToLower(s.Economy)+" economy")
	}
	if s.StarType != "" {
		scoop := "not scoopable"
		if s.Scoopable {
			scoop = "excellent for fuel scooping"
		}
		parts = append(parts, fmt.Sprintf("Main star is %s-type (%s)", s.StarType, scoop))
	}
	if s.Bodies > 0 {
		parts = append(parts, fmt.Sprintf("%d bodies", s.Bodies))
	}
	if s.Landable > 0 {
		parts = append(parts, fmt.Sprintf("%d landable", s.Landable))
	}
	if len(parts) == 0 {
		return "No detailed information available"
	}
	return strings.Join(parts, ", ")
}

func populationDesc(p int64) string {
	switch {
	case p == 0:
		return "unpopulated"
	case p < 10_000:
		return "small population"
	case p < 1_000_000:
		return "medium population"
	case p < 10_000_000:
		return "large population"
	default:
		return "huge population"
	}
}
