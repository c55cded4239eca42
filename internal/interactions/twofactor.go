package interactions

import (
	"context"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
)

// push-two-factor 的固定响应文案。调用方按字符串匹配结果，不要改动。
const (
	twoFASuccess   = "Valid code, operation successful"
	twoFAInvalid   = "Invalid code, operation failed"
	twoFANoPending = "There is no operation waiting for 2fa"
)

// totpNow 是验证码校验用的时间源，测试里替换。
var totpNow = time.Now

// pushTwoFactorHandler 校验 TOTP 验证码并放行等待中的操作。
// 允许前后各一个时间窗的偏差。
// 没有等待中的提案时直接返回提示，不校验验证码。
func pushTwoFactorHandler(eng Agent, secret string) Handler {
	return HandlerFunc(func(_ context.Context, params map[string]any) (any, error) {
		code, _ := params["code"].(string)
		if code == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证码不能为空")
		}
		if _, waiting := eng.WaitingOperation(); !waiting {
			return map[string]string{"message": twoFANoPending}, nil
		}
		valid, err := totp.ValidateCustom(code, secret, totpNow(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "校验验证码失败")
		}
		if !valid {
			return map[string]string{"message": twoFAInvalid}, nil
		}
		if !eng.ConfirmTwoFA() {
			return map[string]string{"message": twoFANoPending}, nil
		}
		return map[string]string{"message": twoFASuccess}, nil
	})
}
