package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/freelance-manager/freelance-api/internal/filestore"
	"github.com/freelance-manager/freelance-api/internal/finance"
	"github.com/freelance-manager/freelance-api/internal/query"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// RecordSource loads the records of one kind inside a window.
type RecordSource interface {
	Records(ctx context.Context, kind query.Kind, owner uuid.UUID, w taxyear.Window) ([]finance.Record, error)
}

// Metrics receives build outcomes. Nil disables reporting.
type Metrics interface {
	ArchiveBuilt(result string)
	AttachmentSkipped()
}

// Build results reported to Metrics.
const (
	ResultComplete = "complete"
	ResultEmpty    = "empty"
	ResultFailed   = "failed"
)

// Builder assembles archives. It is stateless; every Build owns its own job.
type Builder struct {
	source     RecordSource
	store      filestore.Store
	scratchDir string
	logger     *slog.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewBuilder constructs a Builder. An empty scratchDir uses the OS temp dir.
func NewBuilder(source RecordSource, store filestore.Store, scratchDir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{source: source, store: store, scratchDir: scratchDir, logger: logger, now: time.Now}
}

// WithMetrics attaches build instrumentation.
func (b *Builder) WithMetrics(m Metrics) {
	b.metrics = m
}

type csvExport struct {
	name    string
	path    string
	records []finance.Record
	write   func(io.Writer, []finance.Record) error
}

type attachment struct {
	name string
	path string
}

// job is the per-build working set.
type job struct {
	id          uuid.UUID
	req         Request
	state       State
	exports     []csvExport
	attachments []attachment
	futures     []<-chan error
	entries     []string
	skipped     []string
	outputPath  string
}

func (j *job) advance(to State) error {
	if err := ValidateTransition(j.state, to); err != nil {
		return err
	}
	j.state = to
	return nil
}

// Build loads the owner's records for the window and produces a stored zip.
// Nothing is stored when both record sets are empty.
func (b *Builder) Build(ctx context.Context, req Request) (_ *Archive, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j := &job{id: uuid.New(), req: req, state: StateEmpty}
	logger := b.logger.With(slog.String("owner_id", req.OwnerID.String()), slog.String("archive", req.Names.Archive))

	expenses, invoices, err := b.load(ctx, req)
	if err != nil {
		b.report(ResultFailed)
		return nil, err
	}
	if len(expenses) == 0 && len(invoices) == 0 {
		b.report(ResultEmpty)
		return nil, shared.NotFound("no data found")
	}

	defer func() {
		if err != nil {
			b.fail(j, logger, err)
		}
	}()

	if err = j.advance(StateCollecting); err != nil {
		return nil, err
	}
	b.collect(j, expenses, invoices, logger)

	if err = j.advance(StateWriting); err != nil {
		return nil, err
	}
	for _, export := range j.exports {
		j.futures = append(j.futures, b.writeCSV(ctx, export))
	}
	scratch, err := os.CreateTemp(b.scratchDir, "archive-*.zip")
	if err != nil {
		return nil, shared.NewIOFailure("create scratch", b.scratchDir, false, err)
	}
	defer func() {
		_ = scratch.Close()
		_ = os.Remove(scratch.Name())
	}()

	zw := zip.NewWriter(scratch)
	if err = b.appendAttachments(ctx, j, zw, logger); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err = b.appendExports(ctx, j, zw); err != nil {
		_ = zw.Close()
		return nil, err
	}

	if err = j.advance(StateFinalizing); err != nil {
		_ = zw.Close()
		return nil, err
	}
	size, err := b.finalize(ctx, j, zw, scratch)
	if err != nil {
		return nil, err
	}
	if err = j.advance(StateComplete); err != nil {
		return nil, err
	}
	b.deleteExports(j, logger)

	b.report(ResultComplete)
	logger.Info("archive ready", slog.String("path", j.outputPath), slog.Int("entries", len(j.entries)), slog.Int("skipped", len(j.skipped)))
	return &Archive{
		Name:    req.Names.Archive,
		Path:    j.outputPath,
		Size:    size,
		Entries: j.entries,
		Skipped: j.skipped,
		store:   b.store,
	}, nil
}

func (b *Builder) load(ctx context.Context, req Request) (expenses, invoices []finance.Record, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = b.source.Records(gctx, query.KindExpense, req.OwnerID, req.Window)
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = b.source.Records(gctx, query.KindInvoice, req.OwnerID, req.Window)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, finance.ErrStoreUnavailable) {
			return nil, nil, shared.NewIOFailure("load records", "", true, err)
		}
		return nil, nil, fmt.Errorf("archive: load records: %w", err)
	}
	return expenses, invoices, nil
}

func (b *Builder) collect(j *job, expenses, invoices []finance.Record, logger *slog.Logger) {
	scratch := filestore.Join(filestore.ReportsDir, j.req.OwnerID.String(), filestore.BuildDirPrefix+j.id.String())
	j.exports = []csvExport{
		{name: j.req.Names.Expenses, path: filestore.Join(scratch, j.req.Names.Expenses), records: expenses, write: WriteExpensesCSV},
		{name: j.req.Names.Invoices, path: filestore.Join(scratch, j.req.Names.Invoices), records: invoices, write: WriteInvoicesCSV},
	}
	seen := map[string]bool{}
	add := func(dir string, records []finance.Record) {
		for _, rec := range records {
			if !rec.HasAttachment() {
				continue
			}
			p, err := filestore.Child(dir, rec.AttachedFile)
			if err != nil {
				logger.Warn("attachment name rejected, skipped", slog.String("dir", dir), slog.String("file", rec.AttachedFile))
				b.skip(j, dir+"/"+rec.AttachedFile)
				continue
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			// Entries keep their folder so proofs and invoices never share a name.
			j.attachments = append(j.attachments, attachment{name: p, path: p})
		}
	}
	add(filestore.ExpenseProofsDir, expenses)
	add(filestore.ProjectInvoicesDir, invoices)
	j.outputPath = StoredPath(j.req.OwnerID, j.req.Names.Archive)
	if j.req.Transient {
		j.outputPath = filestore.Join(scratch, j.req.Names.Archive)
	}
}

func (b *Builder) skip(j *job, file string) {
	j.skipped = append(j.skipped, file)
	if b.metrics != nil {
		b.metrics.AttachmentSkipped()
	}
}

// writeCSV streams one export into the file store. The returned future
// resolves once the store write returned, so the object is complete.
func (b *Builder) writeCSV(ctx context.Context, export csvExport) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(export.write(pw, export.records))
		}()
		err := b.store.Write(ctx, export.path, pr)
		_ = pr.CloseWithError(errors.New("archive: csv write aborted"))
		done <- err
	}()
	return done
}

func (b *Builder) appendAttachments(ctx context.Context, j *job, zw *zip.Writer, logger *slog.Logger) error {
	for _, a := range j.attachments {
		rc, err := b.store.Open(ctx, a.path)
		if errors.Is(err, filestore.ErrNotExist) {
			logger.Warn("attachment missing, skipped", slog.String("file", a.path))
			b.skip(j, a.path)
			continue
		}
		if err != nil {
			return err
		}
		err = b.appendEntry(zw, a.name, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		j.entries = append(j.entries, a.name)
	}
	return nil
}

// appendExports waits for each CSV future before appending that CSV.
func (b *Builder) appendExports(ctx context.Context, j *job, zw *zip.Writer) error {
	for i, export := range j.exports {
		if err := <-j.futures[i]; err != nil {
			return err
		}
		rc, err := b.store.Open(ctx, export.path)
		if err != nil {
			if errors.Is(err, filestore.ErrNotExist) {
				return shared.NewIOFailure("open export", export.path, false, err)
			}
			return err
		}
		err = b.appendEntry(zw, export.name, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
		j.entries = append(j.entries, export.name)
	}
	return nil
}

func (b *Builder) appendEntry(zw *zip.Writer, name string, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: b.now()})
	if err != nil {
		return shared.NewIOFailure("zip entry", name, false, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return shared.NewIOFailure("zip copy", name, false, err)
	}
	return nil
}

// finalize seals the zip, flushes the scratch file and persists it. Store
// writes are atomic so a failed persist leaves any earlier archive intact.
func (b *Builder) finalize(ctx context.Context, j *job, zw *zip.Writer, scratch *os.File) (int64, error) {
	if err := zw.Close(); err != nil {
		return 0, shared.NewIOFailure("zip close", scratch.Name(), false, err)
	}
	if err := scratch.Sync(); err != nil {
		return 0, shared.NewIOFailure("sync", scratch.Name(), false, err)
	}
	size, err := scratch.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, shared.NewIOFailure("seek", scratch.Name(), false, err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return 0, shared.NewIOFailure("seek", scratch.Name(), false, err)
	}
	if err := b.store.Write(ctx, j.outputPath, scratch); err != nil {
		return 0, err
	}
	return size, nil
}

func (b *Builder) fail(j *job, logger *slog.Logger, cause error) {
	_ = j.advance(StateFailed)
	// Pending CSV writers must finish before their output can be removed.
	for _, f := range j.futures {
		<-f
	}
	b.deleteExports(j, logger)
	b.report(ResultFailed)
	logger.Error("archive build failed", slog.String("state", string(j.state)), slog.Any("error", cause))
}

func (b *Builder) deleteExports(j *job, logger *slog.Logger) {
	for _, export := range j.exports {
		if err := b.store.Delete(context.Background(), export.path); err != nil {
			logger.Warn("remove intermediate export", slog.String("file", export.path), slog.Any("error", err))
		}
	}
}

func (b *Builder) report(result string) {
	if b.metrics != nil {
		b.metrics.ArchiveBuilt(result)
	}
}
