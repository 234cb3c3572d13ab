package store

import (
	"testing"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPage_Limit_Is_Clamped(t *testing.T) {
	req := require.New(t)
	req.Equal(DefaultPageLimit, Page{}.limit())
	req.Equal(DefaultPageLimit, Page{Limit: -3}.limit())
	req.Equal(10, Page{Limit: 10}.limit())
	req.Equal(MaxPageLimit, Page{Limit: 10000}.limit())
}

func TestPageQuery(t *testing.T) {
	req := require.New(t)

	before, limit, err := pageQuery(Page{})
	req.NoError(err)
	req.Equal(int64(1<<63-1), before)
	req.Equal(DefaultPageLimit, limit)

	before, _, err = pageQuery(Page{Cursor: "0000000000000000123"})
	req.NoError(err)
	req.Equal(int64(123), before)

	_, _, err = pageQuery(Page{Cursor: "-1"})
	req.ErrorIs(err, errs.ErrInvalidArgument)
}

func TestOpen_Badger_And_Unknown(t *testing.T) {
	req := require.New(t)

	gw, err := Open(Options{Backend: BackendBadger, BadgerPath: t.TempDir()}, zaptest.NewLogger(t))
	req.NoError(err)
	req.IsType(&Badger{}, gw)
	req.NoError(gw.Close())

	_, err = Open(Options{Backend: "sqlite"}, zaptest.NewLogger(t))
	req.ErrorIs(err, errs.ErrInvalidArgument)
}
