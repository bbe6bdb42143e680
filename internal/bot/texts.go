package bot

// User-facing texts. The bot speaks Persian.
const (
	textChoose       = "سلام! لطفا موارد مورد نظر برای دریافت قیمت را انتخاب کنید:"
	textChooseAgain  = "لطفا موارد مورد نظر را انتخاب کنید:"
	textEmptyCatalog = "متاسفانه در حال حاضر لیستی برای انتخاب وجود ندارد. لطفا بعدا دوباره /start را بزنید."
	textSaved        = "✅ تنظیمات شما ذخیره شد.\n قیمت موارد زیر برای شما ارسال خواهد شد:"
	textNothing      = "هیچ موردی انتخاب نشده است."
	textSaveFailed   = "❌ ذخیره تنظیمات انجام نشد. انتخاب‌های شما حفظ شده است؛ لطفا دوباره «ذخیره و پایان» را بزنید."
	textRetryShort   = "ذخیره نشد، دوباره تلاش کنید"
	textStatusTitle  = "موارد انتخابی شما:"
	textStatusEmpty  = "هنوز موردی انتخاب نکرده‌اید. برای انتخاب /start را بزنید."
	textNeedStart    = "لطفا ابتدا /start را بزنید."
	textExpired      = "این دکمه منقضی شده است؛ لطفا /start را بزنید."
	textUnknownCmd   = "دستور ناشناخته. برای انتخاب موارد /start را بزنید."
	textBusy         = "خطای موقت؛ لطفا کمی بعد دوباره تلاش کنید."

	btnSave = "✅ ذخیره و پایان"
	mark    = "✅ "
)
