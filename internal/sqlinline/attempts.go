package sqlinline

const QInsertPhotoAttempt = `--sql 9dbde700-e1bd-4c26-bb9d-e2ee22733ba5
insert into photo_attempts (
    id, photo_id, attempt, caller, outcome, error_code,
    latency_ms, upstream_latency_ms, confidence, model, created_at
)
values ($1::uuid, $2::uuid, $3::int, $4::text, $5::text, $6::text, $7::bigint, $8::bigint, $9::double precision, $10::text, $11::timestamptz);
`

const QListPhotoAttempts = `--sql 62dac2ff-3ed4-43e7-b879-c775eaaca791
select id::text, photo_id::text, attempt, caller, outcome, error_code,
       latency_ms, upstream_latency_ms, confidence, model, created_at
from photo_attempts
where photo_id = $1::uuid
order by created_at desc
limit $2::int;
`
