package tools

import (
	"context"

	"github.com/aristath/riskcore/internal/baskets"
	"github.com/aristath/riskcore/internal/contracts"
)

func (t *toolset) listBaskets(_ context.Context, req *Request) (*Result, error) {
	list, err := t.deps.Baskets.List(req.UserID)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), list)
	names := make([]string, 0, len(list))
	for _, b := range list {
		names = append(names, b.Name)
	}
	res.Summary = map[string]interface{}{"count": len(list), "names": names}
	res.Snapshot = map[string]interface{}{"verdict": "baskets", "count": len(list), "names": names}
	return res, nil
}

func (t *toolset) getBasket(_ context.Context, req *Request) (*Result, error) {
	basket, err := t.deps.Baskets.Get(req.UserID, req.String("name", ""))
	if err != nil {
		return nil, err
	}
	res := success(req, t.reg.now(), basket)
	res.Summary = map[string]interface{}{
		"name":      basket.Name,
		"tickers":   len(basket.Tickers),
		"weighting": string(basket.Weighting),
	}
	res.Snapshot = map[string]interface{}{"verdict": basket.Name, "tickers": len(basket.Tickers)}
	return res, nil
}

func basketFromRequest(req *Request) *baskets.Basket {
	return &baskets.Basket{
		UserID:    req.UserID,
		Name:      req.String("name", ""),
		Tickers:   req.Strings("tickers"),
		Weights:   req.FloatMap("weights"),
		Weighting: baskets.WeightingMethod(req.String("weighting", "")),
	}
}

func (t *toolset) createBasket(_ context.Context, req *Request) (*Result, error) {
	basket := basketFromRequest(req)
	if err := t.deps.Service.CreateBasket(basket); err != nil {
		return nil, err
	}
	res := success(req, t.reg.now(), basket)
	res.Summary = map[string]interface{}{"name": basket.Name, "tickers": len(basket.Tickers)}
	res.Snapshot = map[string]interface{}{"verdict": "created", "name": basket.Name}
	return res, nil
}

func (t *toolset) updateBasket(_ context.Context, req *Request) (*Result, error) {
	basket := basketFromRequest(req)
	if err := t.deps.Service.UpdateBasket(basket); err != nil {
		return nil, err
	}
	res := success(req, t.reg.now(), basket)
	res.Summary = map[string]interface{}{"name": basket.Name, "tickers": len(basket.Tickers)}
	res.Snapshot = map[string]interface{}{"verdict": "updated", "name": basket.Name}
	return res, nil
}

func (t *toolset) deleteBasket(_ context.Context, req *Request) (*Result, error) {
	name := req.String("name", "")
	if err := t.deps.Service.DeleteBasket(req.UserID, name); err != nil {
		return nil, err
	}
	res := success(req, t.reg.now(), nil)
	res.Summary = map[string]interface{}{"name": name}
	res.Snapshot = map[string]interface{}{"verdict": "deleted", "name": name}
	return res, nil
}

func (t *toolset) analyzeBasket(ctx context.Context, req *Request) (*Result, error) {
	analysis, err := t.deps.Service.AnalyzeBasket(ctx, req.UserID, req.String("name", ""))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), analysis)
	res.Summary = map[string]interface{}{"basket": analysis.Basket}
	snapshot := map[string]interface{}{"verdict": "analyzed", "basket": analysis.Basket}
	if analysis.Profile != nil {
		res.Summary["annual_return"] = analysis.Profile.AnnualReturn
		res.Summary["volatility"] = analysis.Profile.Volatility
		snapshot["return"] = round2(analysis.Profile.AnnualReturn)
		snapshot["volatility"] = round2(analysis.Profile.Volatility)
	}
	res.Snapshot = snapshot
	return res, nil
}

func (t *toolset) futuresMonths(ctx context.Context, req *Request) (*Result, error) {
	symbol := req.String("symbol", "")
	months, err := t.deps.Catalog.ListMonths(ctx, symbol)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), months)
	labels := make([]string, 0, len(months))
	for _, m := range months {
		labels = append(labels, fmtMonth(m.ContractMonth))
	}
	res.Summary = map[string]interface{}{"symbol": symbol, "months": labels}
	res.Snapshot = map[string]interface{}{"verdict": "listed", "months": labels}
	return res, nil
}

// futuresCurve reports the listed months alongside the contract spec; leg
// pricing stays with the broker gateway.
func (t *toolset) futuresCurve(ctx context.Context, req *Request) (*Result, error) {
	symbol := req.String("symbol", "")
	spec := t.deps.Catalog.Lookup(symbol)
	months, err := t.deps.Catalog.ListMonths(ctx, symbol)
	if err != nil {
		return nil, err
	}

	detail := map[string]interface{}{
		"spec":   spec,
		"months": months,
	}
	res := success(req, t.reg.now(), detail)
	res.Summary = map[string]interface{}{
		"symbol":     spec.Symbol,
		"exchange":   spec.Exchange,
		"multiplier": spec.Multiplier,
		"months":     len(months),
	}
	res.Snapshot = map[string]interface{}{"verdict": "curve", "months": len(months)}
	return res, nil
}

func rollArgs(req *Request) (symbol, front, back string, direction contracts.RollDirection, quantity float64) {
	return req.String("symbol", ""),
		req.String("front_month", ""),
		req.String("back_month", ""),
		contracts.RollDirection(req.String("direction", string(contracts.LongRoll))),
		req.Float("quantity", 1)
}

func (t *toolset) previewRoll(ctx context.Context, req *Request) (*Result, error) {
	symbol, front, back, direction, quantity := rollArgs(req)
	preview, err := t.deps.Desk.PreviewFuturesRoll(ctx, symbol, front, back, direction, quantity)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), preview)
	res.Summary = map[string]interface{}{
		"symbol":    preview.Spread.Symbol,
		"direction": string(preview.Spread.Direction),
		"front":     fmtMonth(front),
		"back":      fmtMonth(back),
	}
	res.Snapshot = map[string]interface{}{
		"verdict": string(preview.Spread.Direction),
		"legs":    []string{legLabel(preview.Spread.Legs[0]), legLabel(preview.Spread.Legs[1])},
	}
	return res, nil
}

func (t *toolset) executeRoll(ctx context.Context, req *Request) (*Result, error) {
	symbol, front, back, direction, quantity := rollArgs(req)
	exec, err := t.deps.Desk.ExecuteFuturesRoll(ctx, symbol, front, back, direction, quantity)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), exec)
	res.Summary = map[string]interface{}{"status": exec.Status, "broker_ref": exec.BrokerRef}
	res.Snapshot = map[string]interface{}{"verdict": exec.Status}
	return res, nil
}

func legLabel(leg contracts.SpreadLeg) string {
	return leg.Action + " " + fmtMonth(leg.ContractMonth)
}

func (t *toolset) previewTrade(ctx context.Context, req *Request) (*Result, error) {
	preview, err := t.deps.Desk.PreviewTrade(ctx, req.UserID,
		req.String("symbol", ""), req.String("side", ""), req.Float("quantity", 0))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), preview)
	res.Summary = map[string]interface{}{
		"preview_id": preview.ID,
		"est_price":  preview.EstPrice,
		"est_cost":   preview.EstCost,
		"expires_at": preview.ExpiresAt,
	}
	res.Snapshot = map[string]interface{}{
		"verdict": "previewed",
		"symbol":  preview.Symbol,
		"cost":    round2(preview.EstCost),
	}
	return res, nil
}

func (t *toolset) executeTrade(ctx context.Context, req *Request) (*Result, error) {
	exec, err := t.deps.Desk.ExecuteTrade(ctx, req.UserID, req.String("preview_id", ""))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), exec)
	res.Summary = map[string]interface{}{
		"status":   exec.Status,
		"est_cost": exec.Preview.EstCost,
	}
	if exec.DriftWarning {
		res.Flags = append(res.Flags, "drift_warning")
	}
	res.Snapshot = map[string]interface{}{
		"verdict": exec.Status,
		"cost":    round2(exec.Preview.EstCost),
		"flags":   res.Flags,
	}
	return res, nil
}

func (t *toolset) previewBasketTrade(ctx context.Context, req *Request) (*Result, error) {
	preview, err := t.deps.Desk.PreviewBasketTrade(ctx, req.UserID,
		req.String("name", ""), req.Float("notional", 0), nil)
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), preview)
	res.Summary = map[string]interface{}{
		"group_id": preview.GroupID,
		"legs":     len(preview.Legs),
		"skipped":  preview.Skipped,
	}
	for _, skipped := range preview.Skipped {
		res.Flags = append(res.Flags, "leg_skipped:"+skipped)
	}
	res.Snapshot = map[string]interface{}{
		"verdict": "previewed",
		"legs":    len(preview.Legs),
		"flags":   res.Flags,
	}
	return res, nil
}

func (t *toolset) executeBasketTrade(ctx context.Context, req *Request) (*Result, error) {
	exec, err := t.deps.Desk.ExecuteBasketTrade(ctx, req.UserID, req.String("group_id", ""))
	if err != nil {
		return nil, err
	}

	res := success(req, t.reg.now(), exec)
	res.Summary = map[string]interface{}{
		"group_id": exec.GroupID,
		"legs":     len(exec.Executions),
	}
	if exec.DriftWarning {
		res.Flags = append(res.Flags, "drift_warning")
	}
	res.Snapshot = map[string]interface{}{
		"verdict": "executed",
		"legs":    len(exec.Executions),
		"flags":   res.Flags,
	}
	return res, nil
}
