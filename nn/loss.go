package nn

import "math"

// logClamp 与常见框架的 BCE 实现一致：log 项下限为 -100，避免 log(0)。
const logClamp = -100

// BCELoss 计算平均二元交叉熵，probs 为 sigmoid 输出。
func BCELoss(probs, targets []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for i, p := range probs {
		t := targets[i]
		sum -= t*clampedLog(p) + (1-t)*clampedLog(1-p)
	}
	return sum / float64(len(probs))
}

func clampedLog(x float64) float64 {
	if x <= 0 {
		return logClamp
	}
	return math.Max(math.Log(x), logClamp)
}

// BCEGradLogits 返回平均 BCE 对 sigmoid 之前 logit 的梯度：(p - t) / n。
func BCEGradLogits(probs, targets []float64) []float64 {
	n := float64(len(probs))
	grad := make([]float64, len(probs))
	for i, p := range probs {
		grad[i] = (p - targets[i]) / n
	}
	return grad
}
