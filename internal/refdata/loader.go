package refdata

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jwpark-dev/vi-monitor/internal/model"
)

// LoaderConfig holds symbol table loader settings.
type LoaderConfig struct {
	RestURL string

	// CacheDir is the directory for the daily CSV cache. Empty disables
	// caching.
	CacheDir string

	Timeout time.Duration
}

// csvHeader is the column layout of the daily cache file.
var csvHeader = []string{
	"code", "name", "market", "etf",
	"upper_limit", "lower_limit", "prev_close", "base_price",
}

// t8430Request is the wire format of the symbol table request.
type t8430Request struct {
	InBlock t8430InBlock `json:"t8430InBlock"`
}

type t8430InBlock struct {
	Gubun string `json:"gubun"` // "0" = all boards
}

// t8430Response is the wire format of the symbol table response.
type t8430Response struct {
	OutBlock []t8430Row `json:"t8430OutBlock"`
	RspCd    string     `json:"rsp_cd"`
	RspMsg   string     `json:"rsp_msg"`
}

type t8430Row struct {
	Hname      string `json:"hname"`
	Shcode     string `json:"shcode"`
	Gubun      string `json:"gubun"`    // "1" = KOSPI, else KOSDAQ
	EtfGubun   string `json:"etfgubun"` // "1" = ETF
	UplmtPrice int64  `json:"uplmtprice"`
	DnlmtPrice int64  `json:"dnlmtprice"`
	JnilClose  int64  `json:"jnilclose"`
	RecPrice   int64  `json:"recprice"`
}

// Load returns the symbol table for today: the daily CSV cache when
// present, otherwise the t8430 REST call, which then writes the cache.
func Load(ctx context.Context, cfg LoaderConfig, token string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cachePath string
	if cfg.CacheDir != "" {
		cachePath = filepath.Join(cfg.CacheDir,
			fmt.Sprintf("stocks_info_%s.csv", time.Now().Format("20060102")))

		if store, err := loadCSV(cachePath); err == nil {
			logger.Info("symbol table loaded from cache", "path", cachePath, "symbols", store.Len())
			return store, nil
		} else if !os.IsNotExist(err) {
			logger.Warn("ignoring unreadable symbol cache", "path", cachePath, "error", err)
		}
	}

	infos, err := fetch(ctx, cfg, token)
	if err != nil {
		return nil, err
	}

	store := NewStore(infos)
	logger.Info("symbol table fetched", "symbols", store.Len())

	if cachePath != "" {
		if err := writeCSV(cachePath, store); err != nil {
			logger.Warn("failed to write symbol cache", "path", cachePath, "error", err)
		}
	}

	return store, nil
}

// fetch performs the t8430 call for every listed symbol.
func fetch(ctx context.Context, cfg LoaderConfig, token string) ([]model.StockInfo, error) {
	payload, err := json.Marshal(t8430Request{InBlock: t8430InBlock{Gubun: "0"}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.RestURL+"/stock/etc", strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("tr_cd", "t8430")
	req.Header.Set("tr_cont", "N")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("symbol table request failed: status %d", resp.StatusCode)
	}

	var tr t8430Response
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(tr.OutBlock) == 0 {
		return nil, fmt.Errorf("symbol table response is empty: rsp_cd=%s rsp_msg=%s", tr.RspCd, tr.RspMsg)
	}

	infos := make([]model.StockInfo, 0, len(tr.OutBlock))
	for _, row := range tr.OutBlock {
		market := model.MarketKOSDAQ
		if row.Gubun == "1" {
			market = model.MarketKOSPI
		}
		infos = append(infos, model.StockInfo{
			Code:       row.Shcode,
			Name:       row.Hname,
			Market:     market,
			ETF:        row.EtfGubun == "1",
			UpperLimit: row.UplmtPrice,
			LowerLimit: row.DnlmtPrice,
			PrevClose:  row.JnilClose,
			BasePrice:  row.RecPrice,
		})
	}

	return infos, nil
}

// loadCSV reads a daily cache file.
func loadCSV(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 1 || len(records[0]) != len(csvHeader) {
		return nil, fmt.Errorf("unexpected csv layout in %s", path)
	}

	infos := make([]model.StockInfo, 0, len(records)-1)
	for _, rec := range records[1:] {
		upper, err1 := strconv.ParseInt(rec[4], 10, 64)
		lower, err2 := strconv.ParseInt(rec[5], 10, 64)
		prev, err3 := strconv.ParseInt(rec[6], 10, 64)
		base, err4 := strconv.ParseInt(rec[7], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, fmt.Errorf("bad numeric column for code %s", rec[0])
		}

		infos = append(infos, model.StockInfo{
			Code:       rec[0],
			Name:       rec[1],
			Market:     model.Market(rec[2]),
			ETF:        rec[3] == "true",
			UpperLimit: upper,
			LowerLimit: lower,
			PrevClose:  prev,
			BasePrice:  base,
		})
	}

	return NewStore(infos), nil
}

// writeCSV writes the daily cache file.
func writeCSV(path string, store *Store) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, code := range store.Codes() {
		info, _ := store.Lookup(code)
		rec := []string{
			info.Code,
			info.Name,
			string(info.Market),
			strconv.FormatBool(info.ETF),
			strconv.FormatInt(info.UpperLimit, 10),
			strconv.FormatInt(info.LowerLimit, 10),
			strconv.FormatInt(info.PrevClose, 10),
			strconv.FormatInt(info.BasePrice, 10),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
