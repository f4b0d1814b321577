package httpapi

import (
	"github.com/i474232898/geomag-gateway/internal/geomag"
)

// batchSelector is the loosely typed time selector of a batch request or
// batch item.
type batchSelector struct {
	Period    string `json:"period"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Date      string `json:"date"`
}

func (s batchSelector) empty() bool {
	return s == batchSelector{}
}

func (s batchSelector) parse() (geomag.TimeSelector, error) {
	return geomag.ParseSelector(s.Period, s.StartDate, s.EndDate, s.Date)
}

type batchItem struct {
	Domain     string `json:"domain"`
	Station    string `json:"station"`
	Name       string `json:"name"`
	SensorCode string `json:"sensor_code"`
	Method     string `json:"method"`
	Aspect     string `json:"aspect"`
	batchSelector
}

type batchRequest struct {
	Items      []batchItem `json:"items" validate:"required,min=1"`
	Domain     string      `json:"domain"`
	Statistics bool        `json:"statistics"`
	batchSelector
}

// toKeys builds one key per item. A request-level selector overrides the
// selectors of all items; items without any selector fail on their own.
func (r batchRequest) toKeys() ([]geomag.QueryKey, geomag.BatchOptions, error) {
	opts := geomag.BatchOptions{Statistics: r.Statistics}
	if !r.batchSelector.empty() {
		sel, err := r.batchSelector.parse()
		if err != nil {
			return nil, opts, err
		}
		opts.Override = sel
	}

	keys := make([]geomag.QueryKey, len(r.Items))
	for i, item := range r.Items {
		domain := item.Domain
		if domain == "" {
			domain = r.Domain
		}
		key := geomag.QueryKey{
			Domain:     domain,
			Station:    item.Station,
			Name:       item.Name,
			SensorCode: item.SensorCode,
			Method:     item.Method,
			Aspect:     item.Aspect,
		}
		if opts.Override == nil && !item.batchSelector.empty() {
			sel, err := item.batchSelector.parse()
			if err != nil {
				return nil, opts, geomag.NewError(geomag.KindInvalidQuery, "item %d: %s", i, geomag.MessageOf(err))
			}
			key.Selector = sel
		}
		keys[i] = key
	}
	return keys, opts, nil
}

type batchItemView struct {
	geomag.BatchItemResult
	StatsError *errorBody `json:"statisticsError,omitempty"`
	Error      *errorBody `json:"error,omitempty"`
}

type batchResponse struct {
	ID         string          `json:"batchId"`
	Items      []batchItemView `json:"items"`
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
}

func newBatchResponse(res geomag.BatchResult) batchResponse {
	out := batchResponse{
		ID:         res.ID,
		Items:      make([]batchItemView, len(res.Items)),
		Total:      len(res.Items),
		Successful: res.Successful,
		Failed:     res.Failed,
	}
	for i, item := range res.Items {
		view := batchItemView{BatchItemResult: item}
		if item.Err != nil {
			view.Error = newErrorBody(item.Err)
		}
		if item.StatsErr != nil {
			view.StatsError = newErrorBody(item.StatsErr)
		}
		out.Items[i] = view
	}
	return out
}
