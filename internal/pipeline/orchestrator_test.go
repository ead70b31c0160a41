package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankforge/rsengine/internal/aggregate"
	"github.com/rankforge/rsengine/internal/contracts"
	"github.com/rankforge/rsengine/internal/fetch"
	"github.com/rankforge/rsengine/internal/rs"
	"github.com/rankforge/rsengine/internal/task"
	"github.com/rankforge/rsengine/pkg/config"
	"github.com/rankforge/rsengine/pkg/logger"
)

type fakeTickerRepo struct {
	mu      sync.Mutex
	tickers map[string]*contracts.Ticker
}

func newFakeTickerRepo(tickers ...*contracts.Ticker) *fakeTickerRepo {
	f := &fakeTickerRepo{tickers: map[string]*contracts.Ticker{}}
	for _, t := range tickers {
		f.tickers[t.Symbol] = t
	}
	return f
}

func (f *fakeTickerRepo) Get(_ context.Context, symbol string) (*contracts.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[symbol]
	if !ok {
		return nil, contracts.ErrNoData
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickerRepo) GetAll(_ context.Context) ([]*contracts.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbols := make([]string, 0, len(f.tickers))
	for s := range f.tickers {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	out := make([]*contracts.Ticker, 0, len(symbols))
	for _, s := range symbols {
		cp := *f.tickers[s]
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTickerRepo) Save(_ context.Context, t *contracts.Ticker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tickers[t.Symbol] = &cp
	return nil
}

func (f *fakeTickerRepo) Delete(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tickers, symbol)
	return nil
}

func (f *fakeTickerRepo) SymbolsBySector(_ context.Context, sector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tickers {
		if t.Sector == sector {
			out = append(out, t.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeTickerRepo) SymbolsByIndustry(_ context.Context, industry string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tickers {
		if t.Industry == industry {
			out = append(out, t.Symbol)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeTickerRepo) Sectors(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, t := range f.tickers {
		if t.Sector != "" && t.Sector != "Index" {
			set[t.Sector] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeTickerRepo) Industries(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, t := range f.tickers {
		if t.Industry != "" && t.Industry != "Index" {
			set[t.Industry] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeTickerRepo) Counts(_ context.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stocks := 0
	sectors := map[string]struct{}{}
	industries := map[string]struct{}{}
	for _, t := range f.tickers {
		if t.Symbol != "SPY" {
			stocks++
		}
		if t.Sector != "" && t.Sector != "Index" {
			sectors[t.Sector] = struct{}{}
		}
		if t.Industry != "" && t.Industry != "Index" {
			industries[t.Industry] = struct{}{}
		}
	}
	return stocks, len(sectors), len(industries), nil
}

type fakePriceRepo struct {
	mu   sync.Mutex
	bars []*contracts.PriceBar
}

func (f *fakePriceRepo) GetBySymbol(_ context.Context, symbol string) ([]*contracts.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.PriceBar
	for _, b := range f.bars {
		if b.Symbol == symbol {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *fakePriceRepo) GetRange(_ context.Context, symbol, from, to string) ([]*contracts.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.PriceBar
	for _, b := range f.bars {
		if b.Symbol == symbol && b.Date >= from && b.Date <= to {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (f *fakePriceRepo) GetAllSince(_ context.Context, from string) ([]*contracts.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.PriceBar
	for _, b := range f.bars {
		if b.Date >= from {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func (f *fakePriceRepo) LatestDate(_ context.Context, symbol string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := ""
	for _, b := range f.bars {
		if b.Symbol == symbol && b.Date > latest {
			latest = b.Date
		}
	}
	if latest == "" {
		return "", contracts.ErrNoData
	}
	return latest, nil
}

func (f *fakePriceRepo) LastBar(_ context.Context, symbol string) (*contracts.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *contracts.PriceBar
	for _, b := range f.bars {
		if b.Symbol == symbol && (last == nil || b.Date > last.Date) {
			last = b
		}
	}
	if last == nil {
		return nil, contracts.ErrNoData
	}
	return last, nil
}

func (f *fakePriceRepo) SaveBatch(_ context.Context, bars []*contracts.PriceBar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars = append(f.bars, bars...)
	return nil
}

func (f *fakePriceRepo) Dates(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, b := range f.bars {
		set[b.Date] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakePriceRepo) DistinctDates(ctx context.Context) (int, error) {
	dates, _ := f.Dates(ctx)
	return len(dates), nil
}

func (f *fakePriceRepo) DeleteBySymbol(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.bars[:0]
	for _, b := range f.bars {
		if b.Symbol != symbol {
			kept = append(kept, b)
		}
	}
	f.bars = kept
	return nil
}

type fakeReturnRepo struct {
	mu         sync.Mutex
	sectors    []*contracts.GroupReturn
	industries []*contracts.GroupReturn
}

func (f *fakeReturnRepo) SaveSectorBatch(_ context.Context, rs []*contracts.GroupReturn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sectors = append(f.sectors, rs...)
	return nil
}

func (f *fakeReturnRepo) SaveIndustryBatch(_ context.Context, rs []*contracts.GroupReturn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.industries = append(f.industries, rs...)
	return nil
}

func (f *fakeReturnRepo) SectorReturnsSince(_ context.Context, from string) ([]*contracts.GroupReturn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.GroupReturn
	for _, r := range f.sectors {
		if r.Date >= from {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReturnRepo) IndustryReturnsSince(_ context.Context, from string) ([]*contracts.GroupReturn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.GroupReturn
	for _, r := range f.industries {
		if r.Date >= from {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReturnRepo) SectorDates(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, r := range f.sectors {
		set[r.Date] = struct{}{}
	}
	return len(set), nil
}

func (f *fakeReturnRepo) IndustryDates(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, r := range f.industries {
		set[r.Date] = struct{}{}
	}
	return len(set), nil
}

func (f *fakeReturnRepo) ClearSectors(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sectors = nil
	return nil
}

func (f *fakeReturnRepo) ClearIndustries(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.industries = nil
	return nil
}

type fakeScoreRepo struct {
	mu     sync.Mutex
	scores []*contracts.RSScore
}

func (f *fakeScoreRepo) SaveBatch(_ context.Context, scores []*contracts.RSScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, scores...)
	return nil
}

func (f *fakeScoreRepo) Latest(_ context.Context, _ contracts.EntityType) ([]*contracts.RSScore, error) {
	return nil, nil
}

func (f *fakeScoreRepo) History(_ context.Context, _ contracts.EntityType, _, _ string) ([]*contracts.RSScore, error) {
	return nil, nil
}

func (f *fakeScoreRepo) DistinctDates(_ context.Context, entityType contracts.EntityType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]struct{}{}
	for _, s := range f.scores {
		if s.EntityType == entityType {
			set[s.Date] = struct{}{}
		}
	}
	return len(set), nil
}

func (f *fakeScoreRepo) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = nil
	return nil
}

func (f *fakeScoreRepo) DeleteByEntity(_ context.Context, _ contracts.EntityType, _ string) error {
	return nil
}

type fakeSettingsRepo struct {
	settings contracts.Settings
}

func (f *fakeSettingsRepo) Load(_ context.Context) (contracts.Settings, error) {
	return f.settings, nil
}

func (f *fakeSettingsRepo) Set(_ context.Context, _, _ string) error { return nil }
func (f *fakeSettingsRepo) SeedDefaults(_ context.Context) error     { return nil }

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*contracts.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]*contracts.Task{}}
}

func (f *fakeTaskRepo) Create(_ context.Context, t *contracts.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeTaskRepo) Get(_ context.Context, id string) (*contracts.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, contracts.ErrNoData
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskRepo) UpdateProgress(_ context.Context, id, progress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.Progress = progress
	}
	return nil
}

func (f *fakeTaskRepo) Complete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.Status = contracts.TaskCompleted
	}
	return nil
}

func (f *fakeTaskRepo) Fail(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[id]; ok {
		t.Status = contracts.TaskFailed
		t.Error = errMsg
	}
	return nil
}

func (f *fakeTaskRepo) List(_ context.Context, taskType contracts.TaskType, status contracts.TaskStatus, limit int) ([]*contracts.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*contracts.Task
	for _, t := range f.tasks {
		if taskType != "" && t.Type != taskType {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) Stats(_ context.Context) ([]*contracts.TaskStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byType := map[contracts.TaskType]*contracts.TaskStats{}
	for _, t := range f.tasks {
		s, ok := byType[t.Type]
		if !ok {
			s = &contracts.TaskStats{Type: t.Type}
			byType[t.Type] = s
		}
		s.Total++
		switch t.Status {
		case contracts.TaskRunning:
			s.Running++
		case contracts.TaskCompleted:
			s.Completed++
		case contracts.TaskFailed:
			s.Failed++
		}
	}
	out := make([]*contracts.TaskStats, 0, len(byType))
	for _, s := range byType {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeTaskRepo) CountFailed(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok && t.Status == contracts.TaskFailed {
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskRepo) CountRunning(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok && t.Status == contracts.TaskRunning {
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskRepo) ClearAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = map[string]*contracts.Task{}
	return nil
}

func (f *fakeTaskRepo) DeleteOldTerminal(_ context.Context, _ int) (int, error) {
	return 0, nil
}

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*contracts.Batch
	order   []string
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: map[string]*contracts.Batch{}}
}

func (f *fakeBatchRepo) Create(_ context.Context, b *contracts.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	cp.StartedAt = time.Now()
	f.batches[b.ID] = &cp
	f.order = append(f.order, b.ID)
	return nil
}

func (f *fakeBatchRepo) Get(_ context.Context, id string) (*contracts.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, contracts.ErrNoData
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBatchRepo) Active(_ context.Context) (*contracts.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		b := f.batches[f.order[i]]
		if b.Status == contracts.BatchRunning {
			cp := *b
			return &cp, nil
		}
	}
	return nil, contracts.ErrNoData
}

func (f *fakeBatchRepo) UpdateStage(_ context.Context, id string, stage contracts.BatchStage, returnTasks []string, rsTask string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return contracts.ErrNoData
	}
	b.Stage = stage
	if returnTasks != nil {
		b.ReturnTasks = returnTasks
	}
	if rsTask != "" {
		b.RSTask = rsTask
	}
	return nil
}

func (f *fakeBatchRepo) Complete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[id]; ok {
		now := time.Now()
		b.Status = contracts.BatchCompleted
		b.CompletedAt = &now
	}
	return nil
}

func (f *fakeBatchRepo) Fail(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[id]; ok {
		now := time.Now()
		b.Status = contracts.BatchError
		b.CompletedAt = &now
		b.Error = errMsg
	}
	return nil
}

func (f *fakeBatchRepo) ClearStale(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.order[:0]
	for _, id := range f.order {
		if b := f.batches[id]; b != nil && b.Status == contracts.BatchRunning {
			delete(f.batches, id)
			continue
		}
		kept = append(kept, id)
	}
	f.order = kept
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	history map[string][]*contracts.PriceBar
	failFor map[string]error
}

func (f *fakeSource) History(_ context.Context, symbol, _, _ string) ([]*contracts.PriceBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[symbol]; ok {
		return nil, err
	}
	return f.history[symbol], nil
}

func (f *fakeSource) Info(_ context.Context, symbol string) (*contracts.TickerInfo, error) {
	return &contracts.TickerInfo{Symbol: symbol, Name: symbol, Sector: "Unknown", Industry: "Unknown"}, nil
}

type env struct {
	orch    *Orchestrator
	tasks   *fakeTaskRepo
	batches *fakeBatchRepo
	prices  *fakePriceRepo
	returns *fakeReturnRepo
	scores  *fakeScoreRepo
}

func sourceBars(symbol string, dates []string) []*contracts.PriceBar {
	out := make([]*contracts.PriceBar, len(dates))
	for i, d := range dates {
		px := 100 + float64(i)
		out[i] = &contracts.PriceBar{
			Symbol: symbol, Date: d,
			Open: px, High: px, Low: px, Close: px, AdjClose: px,
			Volume: 1000,
		}
	}
	return out
}

func tradingDates(n int) []string {
	t0, _ := time.Parse(contracts.DateLayout, "2024-01-02")
	out := make([]string, n)
	for i := range out {
		out[i] = t0.AddDate(0, 0, i).Format(contracts.DateLayout)
	}
	return out
}

func newTestEnv(t *testing.T, src *fakeSource) *env {
	t.Helper()
	log := logger.NewNop()

	tickers := newFakeTickerRepo(
		&contracts.Ticker{Symbol: "AAA", Name: "AAA Corp", Sector: "Technology", Industry: "Software"},
		&contracts.Ticker{Symbol: "BBB", Name: "BBB Corp", Sector: "Technology", Industry: "Software"},
		&contracts.Ticker{Symbol: "SPY", Name: "SPDR S&P 500 ETF Trust", Sector: "Index", Industry: "Index"},
	)
	prices := &fakePriceRepo{}
	returns := &fakeReturnRepo{}
	scores := &fakeScoreRepo{}
	settings := &fakeSettingsRepo{settings: contracts.DefaultSettings()}
	tasks := newFakeTaskRepo()
	batches := newFakeBatchRepo()

	fetchExec := task.NewExecutor(context.Background(), 1, tasks, log)
	t.Cleanup(fetchExec.Close)
	calcExec := task.NewExecutor(context.Background(), 1, tasks, log)
	t.Cleanup(calcExec.Close)

	fetcher := fetch.NewWorker(src, tickers, prices, settings, config.FetchConfig{MaxRetries: 1}, log)
	agg := aggregate.New(tickers, prices, returns, log)
	calc := rs.NewCalculator(prices, returns, scores, settings, log)

	orch := New(Deps{
		Tickers:   tickers,
		Prices:    prices,
		Returns:   returns,
		Scores:    scores,
		Settings:  settings,
		Tasks:     tasks,
		Batches:   batches,
		Fetcher:   fetcher,
		Agg:       agg,
		Calc:      calc,
		FetchExec: fetchExec,
		CalcExec:  calcExec,
		Logger:    log,
	})
	return &env{orch: orch, tasks: tasks, batches: batches, prices: prices, returns: returns, scores: scores}
}

func (e *env) waitDrained(t *testing.T, ids []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := e.tasks.CountRunning(context.Background(), ids)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipelineRunsAllStages(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{history: map[string][]*contracts.PriceBar{
		"AAA": sourceBars("AAA", dates),
		"BBB": sourceBars("BBB", dates),
		"SPY": sourceBars("SPY", dates),
	}}
	e := newTestEnv(t, src)
	ctx := context.Background()

	batchID, err := e.orch.StartRefreshAll(ctx)
	require.NoError(t, err)

	batch, err := e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageFetchPrices, batch.Stage)
	assert.Len(t, batch.PriceTasks, 3)

	// stage 1 -> 2
	e.waitDrained(t, batch.PriceTasks)
	require.NoError(t, e.orch.Advance(ctx))
	batch, err = e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageAggregate, batch.Stage)
	assert.Len(t, batch.ReturnTasks, 2) // Technology + Software

	// stage 2 -> 3
	e.waitDrained(t, batch.ReturnTasks)
	require.NoError(t, e.orch.Advance(ctx))
	batch, err = e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageCalculateRS, batch.Stage)
	require.NotEmpty(t, batch.RSTask)

	assert.NotEmpty(t, e.returns.sectors)
	assert.NotEmpty(t, e.returns.industries)

	// stage 3 -> done
	e.waitDrained(t, []string{batch.RSTask})
	require.NoError(t, e.orch.Advance(ctx))
	batch, err = e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.BatchCompleted, batch.Status)
}

func TestPipelineFailsWhenStageHasFailedTasks(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{
		history: map[string][]*contracts.PriceBar{
			"AAA": sourceBars("AAA", dates),
			"SPY": sourceBars("SPY", dates),
		},
		failFor: map[string]error{"BBB": errors.New("symbol delisted")},
	}
	e := newTestEnv(t, src)
	ctx := context.Background()

	batchID, err := e.orch.StartRefreshAll(ctx)
	require.NoError(t, err)

	batch, err := e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	e.waitDrained(t, batch.PriceTasks)

	require.NoError(t, e.orch.Advance(ctx))
	batch, err = e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.BatchError, batch.Status)
	assert.Contains(t, batch.Error, "1 tasks failed")
}

func TestStartRefreshAllRejectsConcurrentBatch(t *testing.T) {
	dates := tradingDates(3)
	src := &fakeSource{history: map[string][]*contracts.PriceBar{
		"AAA": sourceBars("AAA", dates),
		"BBB": sourceBars("BBB", dates),
		"SPY": sourceBars("SPY", dates),
	}}
	e := newTestEnv(t, src)
	ctx := context.Background()

	_, err := e.orch.StartRefreshAll(ctx)
	require.NoError(t, err)

	_, err = e.orch.StartRefreshAll(ctx)
	assert.ErrorIs(t, err, ErrBatchActive)
}

func TestStartRecalculateBeginsAtAggregation(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{}
	e := newTestEnv(t, src)
	ctx := context.Background()

	// prices already cached from a previous run
	for _, sym := range []string{"AAA", "BBB", "SPY"} {
		bars := sourceBars(sym, dates)
		for i := 1; i < len(bars); i++ {
			r := bars[i].AdjClose/bars[i-1].AdjClose - 1
			bars[i].DailyReturn = &r
		}
		require.NoError(t, e.prices.SaveBatch(ctx, bars))
	}

	batchID, err := e.orch.StartRecalculate(ctx)
	require.NoError(t, err)

	batch, err := e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageAggregate, batch.Stage)
	assert.Empty(t, batch.PriceTasks)
	assert.Len(t, batch.ReturnTasks, 2)
}

func TestAdvanceVacuousStage(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{}
	e := newTestEnv(t, src)
	ctx := context.Background()

	for _, sym := range []string{"AAA", "BBB", "SPY"} {
		require.NoError(t, e.prices.SaveBatch(ctx, sourceBars(sym, dates)))
	}

	// A fetch stage with no tasks at all drains immediately.
	batch := &contracts.Batch{
		ID:     "batch-vacuous",
		Stage:  contracts.StageFetchPrices,
		Status: contracts.BatchRunning,
	}
	require.NoError(t, e.batches.Create(ctx, batch))

	require.NoError(t, e.orch.Advance(ctx))

	got, err := e.batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StageAggregate, got.Stage)
	assert.Len(t, got.ReturnTasks, 2)
	e.waitDrained(t, got.ReturnTasks)
}

func TestQueueEntityRSRunsSingleClass(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{}
	e := newTestEnv(t, src)
	ctx := context.Background()

	for _, sym := range []string{"AAA", "SPY"} {
		bars := sourceBars(sym, dates)
		for i := 1; i < len(bars); i++ {
			r := bars[i].AdjClose/bars[i-1].AdjClose - 1
			bars[i].DailyReturn = &r
		}
		require.NoError(t, e.prices.SaveBatch(ctx, bars))
	}

	id, err := e.orch.QueueEntityRS(ctx, contracts.EntityStock)
	require.NoError(t, err)
	e.waitDrained(t, []string{id})

	got, err := e.tasks.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.TaskCalcStockRS, got.Type)
	assert.Equal(t, contracts.TaskCompleted, got.Status)

	_, err = e.orch.QueueEntityRS(ctx, contracts.EntityType("bond"))
	assert.Error(t, err)
}

func TestStatusReportsStageProgress(t *testing.T) {
	dates := tradingDates(5)
	src := &fakeSource{history: map[string][]*contracts.PriceBar{
		"AAA": sourceBars("AAA", dates),
		"BBB": sourceBars("BBB", dates),
		"SPY": sourceBars("SPY", dates),
	}}
	e := newTestEnv(t, src)
	ctx := context.Background()

	// idle with no data: everything pending
	status, err := e.orch.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Stocks.Total)
	assert.Equal(t, contracts.ItemPending, status.Stocks.Prices.Status)
	assert.Equal(t, contracts.ItemPending, status.Sectors.Returns.Status)
	assert.Nil(t, status.Batch)

	batchID, err := e.orch.StartRefreshAll(ctx)
	require.NoError(t, err)
	batch, err := e.batches.Get(ctx, batchID)
	require.NoError(t, err)
	e.waitDrained(t, batch.PriceTasks)

	// Status advances the batch, then reports against the new stage.
	status, err = e.orch.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Batch)
	assert.Equal(t, contracts.ItemComplete, status.Stocks.Prices.Status)
	assert.Equal(t, 5, status.Stocks.Prices.Days)
	assert.Equal(t, 3, status.Stocks.Prices.Completed)
	assert.Equal(t, contracts.ItemPending, status.Stocks.RSScore.Status)
}

func TestStatusReportsRunningRSCalculation(t *testing.T) {
	e := newTestEnv(t, &fakeSource{})
	ctx := context.Background()

	// Scores from an earlier backfill are already present.
	require.NoError(t, e.scores.SaveBatch(ctx, []*contracts.RSScore{
		{EntityType: contracts.EntityStock, EntityName: "AAA", Date: "2024-01-02", Score: 101.5, Percentile: 100},
	}))

	require.NoError(t, e.tasks.Create(ctx, &contracts.Task{
		ID:     "rs1",
		Type:   contracts.TaskCalcAllRS,
		Status: contracts.TaskRunning,
	}))
	require.NoError(t, e.batches.Create(ctx, &contracts.Batch{
		ID:     "b1",
		Stage:  contracts.StageCalculateRS,
		Status: contracts.BatchRunning,
		RSTask: "rs1",
	}))

	status, err := e.orch.Status(ctx)
	require.NoError(t, err)

	assert.Equal(t, contracts.ItemRunning, status.Stocks.RSScore.Status)
	assert.Equal(t, contracts.ItemRunning, status.Sectors.RSScore.Status)
	assert.Equal(t, contracts.ItemRunning, status.Industries.RSScore.Status)
	assert.Equal(t, 1, status.Stocks.RSScore.Days)
}

func TestRecoverClearsStaleState(t *testing.T) {
	e := newTestEnv(t, &fakeSource{})
	ctx := context.Background()

	require.NoError(t, e.tasks.Create(ctx, &contracts.Task{ID: "t1", Type: contracts.TaskFetchTicker, Status: contracts.TaskRunning}))
	require.NoError(t, e.batches.Create(ctx, &contracts.Batch{ID: "b1", Stage: contracts.StageFetchPrices, Status: contracts.BatchRunning}))

	require.NoError(t, e.orch.Recover(ctx))

	_, err := e.tasks.Get(ctx, "t1")
	assert.ErrorIs(t, err, contracts.ErrNoData)
	_, err = e.batches.Active(ctx)
	assert.ErrorIs(t, err, contracts.ErrNoData)

	// A batch created after recovery is found again.
	require.NoError(t, e.batches.Create(ctx, &contracts.Batch{ID: "b2", Stage: contracts.StageFetchPrices, Status: contracts.BatchRunning}))
	active, err := e.batches.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b2", active.ID)
}
