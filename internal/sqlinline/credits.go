package sqlinline

const QSelectCreditBalance = `--sql 12777691-9317-4ee7-930b-6f5c33474afe
select credits, unlimited, updated_at
from user_credits
where user_id = $1::text;
`

const QDebitCredits = `--sql 927a6018-4a6c-432b-be5d-39ca8ce7dfbe
update user_credits
set credits = case when unlimited then credits else credits - $2::int end,
    updated_at = now()
where user_id = $1::text
  and (unlimited or credits >= $2::int)
returning credits, unlimited, updated_at;
`

const QGrantCredits = `--sql 5d54c7e8-7276-48ee-9ae5-5c9ef2e2ae57
insert into user_credits (user_id, credits, unlimited, updated_at)
values ($1::text, $2::int, false, now())
on conflict (user_id) do update set
    credits = user_credits.credits + excluded.credits,
    updated_at = now()
returning credits, unlimited, updated_at;
`

const QSetUnlimitedCredits = `--sql c1b385be-a772-4b5d-9a7e-94ac4fcef907
insert into user_credits (user_id, credits, unlimited, updated_at)
values ($1::text, 0, $2::boolean, now())
on conflict (user_id) do update set
    unlimited = excluded.unlimited,
    updated_at = now()
returning credits, unlimited, updated_at;
`
