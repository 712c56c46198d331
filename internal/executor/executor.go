package executor

import "conflux-trader/internal/model"

// Executor 是模拟账户的通用接口，回测器和实盘模拟器都通过它下单
type Executor interface {
	// 按动作执行一笔交易，被拒绝时返回 (false, 原因)
	Execute(action model.Action, price, size float64) (bool, error)

	// 账户现金余额
	Balance() float64

	// 当前持仓数量
	Position() float64

	// 余额 + 持仓 x 当前价格
	PortfolioValue(price float64) float64

	InitialBalance() float64
}
