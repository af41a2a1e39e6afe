package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Header candidates, matched exactly and in order.
var (
	idColumns      = []string{"id", "wine_id", "Id", "ID", "WineID", "wineId"}
	nameColumns    = []string{"name", "wine", "Wine", "WineName", "product_name"}
	vintageColumns = []string{"vintage", "Vintage", "year", "Year"}
	dateColumns    = []string{"last_campaign", "last_campaign_date", "LastCampaignDate", "lastCampaign", "date", "Date"}
	dateLayouts    = []string{"2006-01-02", "02/01/2006", "01/02/2006", "2006/01/02", "02-01-2006", time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
)

// CampaignIndex maps wines to the date of their last campaign.
type CampaignIndex struct {
	ByID   map[string]string `json:"by_id"`
	ByName map[string]string `json:"by_name"`
}

// CampaignMeta describes how an index was built.
type CampaignMeta struct {
	Source      string            `json:"source"`
	Exists      bool              `json:"exists"`
	RowCount    int               `json:"row_count"`
	UsedColumns map[string]string `json:"used_columns"`
}

type campaignEntry struct {
	index        CampaignIndex
	meta         CampaignMeta
	size         int64
	lastModified time.Time
}

// Campaigns builds the campaign index from a history CSV and caches it
// until the file changes.
type Campaigns struct {
	Path string
	lru  *expirable.LRU[string, campaignEntry]
}

// NewCampaigns returns a cache for the CSV at path. A zero ttl keeps
// entries until the file changes; a positive ttl starts the cache's
// expiry goroutine, which lives as long as the process.
func NewCampaigns(path string, ttl time.Duration) *Campaigns {
	return &Campaigns{
		Path: path,
		lru:  expirable.NewLRU[string, campaignEntry](4, nil, ttl),
	}
}

// Load returns the cached index, rebuilding it when the CSV changed. A
// missing CSV yields an empty index.
func (c *Campaigns) Load() (CampaignIndex, CampaignMeta, error) {
	fi, err := os.Stat(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		c.lru.Remove(c.Path)
		idx, meta := emptyIndex(c.Path)
		return idx, meta, nil
	}
	if err != nil {
		return CampaignIndex{}, CampaignMeta{}, fmt.Errorf("stat campaign history: %w", err)
	}
	if e, ok := c.lru.Get(c.Path); ok && e.size == fi.Size() && e.lastModified.Equal(fi.ModTime()) {
		return e.index, e.meta, nil
	}
	idx, meta, err := BuildCampaignIndex(c.Path)
	if err != nil {
		return CampaignIndex{}, CampaignMeta{}, err
	}
	c.lru.Add(c.Path, campaignEntry{index: idx, meta: meta, size: fi.Size(), lastModified: fi.ModTime()})
	return idx, meta, nil
}

// Refresh drops the cached index and rebuilds it.
func (c *Campaigns) Refresh() (CampaignIndex, CampaignMeta, error) {
	c.lru.Purge()
	return c.Load()
}

func emptyIndex(path string) (CampaignIndex, CampaignMeta) {
	return CampaignIndex{ByID: map[string]string{}, ByName: map[string]string{}},
		CampaignMeta{Source: path, UsedColumns: map[string]string{}}
}

// BuildCampaignIndex parses the history CSV at path. Rows without a
// parseable date are skipped; the most recent date wins per key. Name and
// date columns are required, otherwise the index is empty.
func BuildCampaignIndex(path string) (CampaignIndex, CampaignMeta, error) {
	idx, meta := emptyIndex(path)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return idx, meta, nil
		}
		return idx, meta, err
	}
	defer f.Close()
	meta.Exists = true

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return idx, meta, nil
	}
	if err != nil {
		return idx, meta, fmt.Errorf("read campaign history header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	pick := func(candidates []string) (string, int) {
		for _, c := range candidates {
			if i, ok := cols[c]; ok {
				return c, i
			}
		}
		return "", -1
	}
	idName, idCol := pick(idColumns)
	nameName, nameCol := pick(nameColumns)
	vintageName, vintageCol := pick(vintageColumns)
	dateName, dateCol := pick(dateColumns)
	meta.UsedColumns = map[string]string{"id": idName, "name": nameName, "vintage": vintageName, "date": dateName}

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return idx, meta, fmt.Errorf("read campaign history: %w", err)
		}
		rows = append(rows, row)
	}
	meta.RowCount = len(rows)
	if nameCol < 0 || dateCol < 0 {
		return idx, meta, nil
	}

	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}
	for _, row := range rows {
		last, ok := parseCampaignDate(field(row, dateCol))
		if !ok {
			continue
		}
		key := NameKey(field(row, nameCol), field(row, vintageCol))
		if prev, ok := idx.ByName[key]; !ok || prev < last {
			idx.ByName[key] = last
		}
		if idCol >= 0 {
			if id := normID(field(row, idCol)); id != "" {
				if prev, ok := idx.ByID[id]; !ok || prev < last {
					idx.ByID[id] = last
				}
			}
		}
	}
	return idx, meta, nil
}

// NameKey builds the by_name key for a wine name and vintage.
func NameKey(name, vintage string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "::" + strings.ToLower(NormVintage(vintage))
}

// NormVintage maps blank and not-applicable vintages to "NV".
func NormVintage(v string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), ".", ""))
	switch s {
	case "", "N/A", "NA", "NONE":
		return "NV"
	}
	return s
}

func normID(v string) string {
	return strings.TrimSuffix(strings.TrimSpace(v), ".0")
}

func parseCampaignDate(v string) (string, bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
