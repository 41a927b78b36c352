package eth

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Token addresses - Ethereum mainnet. Used as uniswap v3 intermediates when config leaves them empty.
var (
	WETHAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDCAddress = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

// LiquidationCall(collateralAsset, debtAsset, user, debtToCover, liquidatedCollateralAmount, liquidator, receiveAToken)
var LiquidationCallTopic = crypto.Keccak256Hash([]byte("LiquidationCall(address,address,address,uint256,uint256,address,bool)"))

// Pool ABI - only what the bot reads
const PoolABI = `[
	{"inputs":[{"name":"user","type":"address"}],"name":"getUserAccountData","outputs":[
		{"name":"totalCollateralBase","type":"uint256"},
		{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},
		{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"healthFactor","type":"uint256"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getReservesList","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"CLOSE_FACTOR_HF_THRESHOLD","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const DataProviderABI = `[
	{"inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],"name":"getUserReserveData","outputs":[
		{"name":"currentATokenBalance","type":"uint256"},
		{"name":"currentStableDebt","type":"uint256"},
		{"name":"currentVariableDebt","type":"uint256"},
		{"name":"principalStableDebt","type":"uint256"},
		{"name":"scaledVariableDebt","type":"uint256"},
		{"name":"stableBorrowRate","type":"uint256"},
		{"name":"liquidityRate","type":"uint256"},
		{"name":"stableRateLastUpdated","type":"uint40"},
		{"name":"usageAsCollateralEnabled","type":"bool"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"asset","type":"address"}],"name":"getReserveConfigurationData","outputs":[
		{"name":"decimals","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"liquidationThreshold","type":"uint256"},
		{"name":"liquidationBonus","type":"uint256"},
		{"name":"reserveFactor","type":"uint256"},
		{"name":"usageAsCollateralEnabled","type":"bool"},
		{"name":"borrowingEnabled","type":"bool"},
		{"name":"stableBorrowRateEnabled","type":"bool"},
		{"name":"isActive","type":"bool"},
		{"name":"isFrozen","type":"bool"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"asset","type":"address"}],"name":"getReserveTokensAddresses","outputs":[
		{"name":"aTokenAddress","type":"address"},
		{"name":"stableDebtTokenAddress","type":"address"},
		{"name":"variableDebtTokenAddress","type":"address"}
	],"stateMutability":"view","type":"function"}
]`

const OracleABI = `[
	{"inputs":[{"name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const ERC20ABI = `[
	{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// ERC-4626 vault, asset() only
const ERC4626ABI = `[
	{"inputs":[],"name":"asset","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const UniswapV3FactoryABI = `[
	{"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

// Both liquidator contracts (flash loan and flash mint) share this entry point.
const LiquidatorABI = `[
	{"inputs":[
		{"name":"debtYieldToken","type":"address"},
		{"name":"collateralYieldToken","type":"address"},
		{"name":"user","type":"address"},
		{"name":"debtToCover","type":"uint256"},
		{"name":"receiveYieldToken","type":"bool"},
		{"name":"unstake","type":"bool"},
		{"name":"swapData","type":"bytes"}
	],"name":"liquidate","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`
