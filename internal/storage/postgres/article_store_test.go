package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage"
)

func sampleArticle() crawler.ParsedArticle {
	published := time.Date(2024, 4, 30, 8, 15, 0, 0, time.UTC)
	return crawler.ParsedArticle{
		ID:          crawler.ArticleID("https://example.com/news/a.html"),
		URL:         "https://example.com/news/a.html",
		Site:        "example",
		Title:       "Headline",
		Body:        "Body text",
		Category:    "news",
		PublishedAt: &published,
		ContentHash: crawler.ContentHash("Body text"),
		CrawledAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func expectInsert(mock pgxmock.PgxPoolIface, article crawler.ParsedArticle) *pgxmock.ExpectedExec {
	document, err := storage.Encode(article)
	if err != nil {
		panic(err)
	}
	return mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			article.ID,
			article.Site,
			article.URL,
			article.Title,
			article.Category,
			article.PublishedAt,
			article.ContentHash,
			document,
			article.CrawledAt,
		)
}

func TestSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "", "")
	require.NoError(t, err)

	article := sampleArticle()
	expectInsert(mock, article).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := store.Save(context.Background(), "example", article)
	require.NoError(t, err)
	require.Equal(t, crawler.Saved, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConflictIsAlreadyExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles", "site_runs")
	require.NoError(t, err)

	article := sampleArticle()
	expectInsert(mock, article).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	outcome, err := store.Save(context.Background(), "example", article)
	require.NoError(t, err)
	require.Equal(t, crawler.AlreadyExists, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFillsSite(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "", "")
	require.NoError(t, err)

	article := sampleArticle()
	article.Site = ""
	withSite := article
	withSite.Site = "fallback"
	expectInsert(mock, withSite).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err = store.Save(context.Background(), "fallback", article)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "", "")
	require.NoError(t, err)

	article := sampleArticle()
	expectInsert(mock, article).WillReturnError(errors.New("connection reset"))

	_, err = store.Save(context.Background(), "example", article)
	require.Error(t, err)
	var storageErr *crawler.StorageError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, "storage", crawler.ReasonCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "", "")
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "example", crawler.ParsedArticle{URL: "https://example.com"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "news_articles", "news_runs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS news_articles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS news_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSiteRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "", "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	result := crawler.NewCrawlResult("example", started)
	result.Discovered, result.Fetched, result.Extracted, result.Saved = 4, 3, 2, 2
	result.Finish(started.Add(time.Minute))

	payload, err := json.Marshal(result)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO site_runs").
		WithArgs("run-1", "example", string(crawler.StateDone), "", payload, result.StartedAt, result.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordSiteRun(context.Background(), "run-1", result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewArticleStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewArticleStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewArticleStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewArticleStoreWithPool(mock, "articles; DROP TABLE x", "")
	require.Error(t, err)
}
