package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAmount float64
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-cycle",
	Short: "模拟一次完整的申购与赎回流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAmount <= 0 || simulatePrice <= 0 {
			return errors.New("--amount 与 --price 必须大于 0")
		}

		amount := decimal.NewFromFloat(simulateAmount)
		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateCycle(cmd.Context(), amount, price)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateAmount, "amount", 0, "申购的抵押资产数量")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "结算使用的份额价格")
}
