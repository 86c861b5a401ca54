package net

import (
	"io"
	gonet "net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skoll/internal/common"
	"skoll/internal/engine"
	"skoll/internal/ledger"
)

func readReport(t *testing.T, conn gonet.Conn) Report {
	t.Helper()
	header := make([]byte, ReportFixedHeaderLen)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)

	report, err := ParseReportHeader(header)
	require.NoError(t, err)

	tail := make([]byte, int(report.ErrStrLen)+int(report.CounterpartyLen))
	if len(tail) > 0 {
		_, err = io.ReadFull(conn, tail)
		require.NoError(t, err)
	}
	require.NoError(t, report.FinishReport(tail))
	return report
}

func TestReportFill_BothPartiesNotified(t *testing.T) {
	srv := New("127.0.0.1", 0, engine.New(ledger.NewMem()))

	bidderSrv, bidderCli := gonet.Pipe()
	askerSrv, askerCli := gonet.Pipe()
	defer bidderSrv.Close()
	defer askerSrv.Close()

	srv.bindSession("bidder", bidderSrv)
	srv.bindSession("asker", askerSrv)

	fill := common.Fill{
		Pair:      uuid.New(),
		Bidder:    "bidder",
		Asker:     "asker",
		Price:     2,
		BaseQty:   50,
		QuoteQty:  100,
		Timestamp: time.Now(),
	}

	done := make(chan error, 1)
	go func() { done <- srv.ReportFill(fill) }()

	bidderReport := readReport(t, bidderCli)
	assert.Equal(t, ExecutionReport, bidderReport.MessageType)
	assert.Equal(t, common.Bid, bidderReport.Side)
	assert.Equal(t, "asker", bidderReport.Counterparty)
	assert.Equal(t, fill.Pair, bidderReport.PairID)

	askerReport := readReport(t, askerCli)
	assert.Equal(t, common.Ask, askerReport.Side)
	assert.Equal(t, "bidder", askerReport.Counterparty)
	assert.Equal(t, uint64(50), askerReport.BaseQty)
	assert.Equal(t, uint64(100), askerReport.QuoteQty)

	require.NoError(t, <-done)
}

// A party without a live session is skipped, not an error.
func TestReportFill_DisconnectedPartySkipped(t *testing.T) {
	srv := New("127.0.0.1", 0, engine.New(ledger.NewMem()))

	bidderSrv, bidderCli := gonet.Pipe()
	defer bidderSrv.Close()
	srv.bindSession("bidder", bidderSrv)

	fill := common.Fill{
		Pair:      uuid.New(),
		Bidder:    "bidder",
		Asker:     "ghost",
		Price:     1,
		BaseQty:   1,
		QuoteQty:  1,
		Timestamp: time.Now(),
	}

	done := make(chan error, 1)
	go func() { done <- srv.ReportFill(fill) }()

	readReport(t, bidderCli)
	require.NoError(t, <-done)
}

func TestSendError_DropsDeadSession(t *testing.T) {
	srv := New("127.0.0.1", 0, engine.New(ledger.NewMem()))

	srvSide, cliSide := gonet.Pipe()
	srv.bindSession("alice", srvSide)
	cliSide.Close()
	srvSide.Close()

	srv.sendError("alice", uuid.New(), ErrMessageTooShort)

	srv.sessionsLock.Lock()
	_, ok := srv.sessions["alice"]
	srv.sessionsLock.Unlock()
	assert.False(t, ok, "failed write must evict the session")
}
