package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclimatefix/solar-consumer/internal/pkg/model"
)

const entsoeXML = `<?xml version="1.0" encoding="UTF-8"?>
<GL_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-6:generationloaddocument:3:0">
  <TimeSeries>
    <inBiddingZone_Domain.mRID>10YDE-VE-------2</inBiddingZone_Domain.mRID>
    <MktPSRType><psrType>B16</psrType></MktPSRType>
    <quantity_Measure_Unit.name>MAW</quantity_Measure_Unit.name>
    <Period>
      <timeInterval><start>2025-06-01T10:00Z</start><end>2025-06-01T11:00Z</end></timeInterval>
      <resolution>PT15M</resolution>
      <Point><position>1</position><quantity>1200</quantity></Point>
      <Point><position>2</position><quantity>1250</quantity></Point>
      <Point><position>3</position><quantity>oops</quantity></Point>
    </Period>
  </TimeSeries>
  <TimeSeries>
    <inBiddingZone_Domain.mRID>10YDE-RWENET---I</inBiddingZone_Domain.mRID>
    <MktPSRType><psrType>B16</psrType></MktPSRType>
    <quantity_Measure_Unit.name>KWT</quantity_Measure_Unit.name>
    <Period>
      <timeInterval><start>2025-06-01T10:00Z</start><end>2025-06-01T11:00Z</end></timeInterval>
      <resolution>PT1H</resolution>
      <Point><position>1</position><quantity>500000</quantity></Point>
    </Period>
  </TimeSeries>
  <TimeSeries>
    <inBiddingZone_Domain.mRID>10YDE-EON------1</inBiddingZone_Domain.mRID>
    <MktPSRType><psrType>B19</psrType></MktPSRType>
    <quantity_Measure_Unit.name>MAW</quantity_Measure_Unit.name>
    <Period>
      <timeInterval><start>2025-06-01T10:00Z</start><end>2025-06-01T11:00Z</end></timeInterval>
      <resolution>PT1H</resolution>
      <Point><position>1</position><quantity>999</quantity></Point>
    </Period>
  </TimeSeries>
</GL_MarketDocument>`

func TestNormalizeENTSOE(t *testing.T) {
	t.Parallel()

	records, errs := normalizeENTSOE([]byte(entsoeXML), fixedNow())
	assert.Len(t, errs, 1, "malformed quantity is skipped and reported")
	require.Len(t, records, 3, "wind series (B19) is filtered out")

	assert.Equal(t, "10YDE-VE-------2", records[0].EntityID)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), records[0].TargetTime)
	assert.Equal(t, 1200.0, records[0].PowerMW)

	assert.Equal(t, time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC), records[1].TargetTime,
		"position 2 offsets by one resolution step")
	assert.Equal(t, 1250.0, records[1].PowerMW)

	assert.Equal(t, "10YDE-RWENET---I", records[2].EntityID)
	assert.Equal(t, 500.0, records[2].PowerMW, "kW quantities normalize to MW")
	assert.Equal(t, model.SourceENTSOE, records[2].Source)
}

func TestNormalizeENTSOE_BadDocument(t *testing.T) {
	t.Parallel()

	records, errs := normalizeENTSOE([]byte("not xml at all"), fixedNow())
	assert.Empty(t, records)
	require.Len(t, errs, 1)
}

func TestEntsoeUnitScale(t *testing.T) {
	t.Parallel()

	for unit, want := range map[string]float64{
		"MAW": 1, "MWT": 1, "": 1, "KWT": 0.001, "GWT": 1000, "kw": 0.001,
	} {
		got, err := entsoeUnitScale(unit)
		require.NoError(t, err, unit)
		assert.Equal(t, want, got, unit)
	}

	_, err := entsoeUnitScale("BTU")
	assert.Error(t, err)
}

func TestParseENTSOEResolution(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]time.Duration{
		"PT15M": 15 * time.Minute,
		"PT30M": 30 * time.Minute,
		"PT60M": time.Hour,
		"PT1H":  time.Hour,
	} {
		got, err := parseENTSOEResolution(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseENTSOEResolution("P1D")
	assert.Error(t, err)
}

func TestENTSOE_Fetch_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	e := NewENTSOE(nil)
	_, err := e.Fetch(context.Background(), model.RunRequest{}, e.Window(fixedNow(), model.RunRequest{}))
	require.Error(t, err)

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, model.SourceENTSOE, ferr.Source)
}

func TestENTSOE_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "A75", q.Get("documentType"))
		assert.Equal(t, "A16", q.Get("processType"))
		assert.Equal(t, "B16", q.Get("psrType"))
		assert.Equal(t, "token", q.Get("securityToken"))
		assert.Len(t, q.Get("periodStart"), 12)
		fmt.Fprint(w, entsoeXML)
	}))
	defer srv.Close()

	e := NewENTSOE(srv.Client())
	e.BaseURL = srv.URL
	e.now = fixedNow

	req := model.RunRequest{EntsoeAPIKey: "token"}
	result, err := e.Fetch(context.Background(), req, e.Window(fixedNow(), req))
	require.NoError(t, err)
	assert.Len(t, result.Records, 3)
}
